package cli

// Flags holds all command-line flag values
type Flags struct {
	// General flags
	CfgFile    string
	ListModels bool

	// Translation flags
	Provider string
	Model    string

	// Folder flags
	OriginFolder    string
	CompletedFolder string
	LedgerPath      string
	GlossaryPath    string
}

// NewFlags creates a new Flags instance with default values
func NewFlags() *Flags {
	return &Flags{
		Provider: "gemini",
	}
}
