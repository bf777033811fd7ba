// Command facefinder tracks faces from a camera or video file and serves
// the painted stream, live scenes and recorded sessions over HTTP.
package main

func main() {
	Execute()
}
