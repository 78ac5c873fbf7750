package main

import "github.com/cgem-lab/strainboard/cmd"

func main() {
	cmd.Execute()
}
