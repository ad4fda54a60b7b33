package main

import "github.com/schemalign/schemalign/cmd"

func main() {
	cmd.Execute()
}
