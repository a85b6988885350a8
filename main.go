package main

import "bingarchiver/cmd"

func main() {
	cmd.Execute()
}
