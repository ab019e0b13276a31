package main

import "github.com/kozaktomas/video-tagger/cmd"

func main() {
	cmd.Execute()
}
