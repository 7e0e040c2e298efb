package spec

// File is the per-run YAML document naming the input images and the
// correction options. Image fields are paths handed to the solver driver's
// loader; empty fields mean the corresponding optional input is absent.
type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Data struct {
		ASL     string `yaml:"asl"`
		IAF     string `yaml:"iaf"` // acquisition format: tc, ct, diff
		Calib   string `yaml:"calib"`
		Cref    string `yaml:"cref"`
		Cblip   string `yaml:"cblip"`
		Struc   string `yaml:"struc"`
		RegFrom string `yaml:"regfrom"`
	} `yaml:"data"`

	Distcorr struct {
		Fmap         string  `yaml:"fmap"`
		FmapMag      string  `yaml:"fmapmag"`
		FmapMagBrain string  `yaml:"fmapmagbrain"`
		NoFmapReg    bool    `yaml:"nofmapreg"`
		EchoSpacing  float64 `yaml:"echospacing"`
		PhaseEncDir  string  `yaml:"pedir"`
		GDCWarp      string  `yaml:"gdcwarp"`
	} `yaml:"distcorr"`

	Senscorr struct {
		Isen string `yaml:"isen"`
		Auto bool   `yaml:"auto"`
		Off  bool   `yaml:"off"`
	} `yaml:"senscorr"`

	Reg struct {
		Flirt    *bool  `yaml:"flirt"` // default true
		BBR      bool   `yaml:"bbr"`
		DOF      int    `yaml:"dof"`
		Schedule string `yaml:"flirtsch"`
		FSLAnat  string `yaml:"fslanat"`
		StdBrain string `yaml:"std_brain"`
		Std      bool   `yaml:"std"` // compute struc->standard registration
		Fnirt    bool   `yaml:"fnirt"`
	} `yaml:"reg"`

	Output struct {
		Dir      string `yaml:"dir"`
		SaveMats bool   `yaml:"save_mats"`
	} `yaml:"output"`
}
