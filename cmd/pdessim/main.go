// Command pdessim is the example topology-runner CLI around this module's
// kernel: a development convenience, not part of the kernel's own public
// API. kernel.Config and the topology are read from a YAML file named by
// the --config flag; the only other flag is run's --metrics-addr.
package main

func main() {
	Execute()
}
