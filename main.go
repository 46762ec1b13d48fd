package main

import "github.com/agentsmithy/agentsmithy/cmd"

func main() {
	cmd.Execute()
}
