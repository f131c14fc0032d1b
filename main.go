package main

import "github.com/elter-ri/dar-harvester/cmd"

func main() {
	cmd.Execute()
}
