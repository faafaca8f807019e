package common

// Config holds the command-line configuration shared by all subcommands.
type Config struct {
	Kubeconfig string
	Namespace  string
	Name       string
	Output     string
	Verbose    bool
}
