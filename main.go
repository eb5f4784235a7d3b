package main

import "github.com/likeablob/infinite-mucha-esque-scroll/cmd"

func main() {
	cmd.Execute()
}
