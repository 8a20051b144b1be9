package main

import "github.com/wiredvibez/callcenter-fileanalyzer/cmd"

func main() {
	cmd.Execute()
}
