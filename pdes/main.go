package main

import "github.com/sarchlab/pdes/pdes/cmd"

func main() {
	cmd.Execute()
}
