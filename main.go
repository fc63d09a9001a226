package main

import "shopchat/cmd"

func main() {
	cmd.Execute()
}
