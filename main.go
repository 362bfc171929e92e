package main

import "github.com/xjtu-toolbox/xjtutoolbox/cmd"

func main() {
	cmd.Execute()
}
