// Command liveness serves face liveness challenges and replays scripted
// face tracks against them.
package main

func main() {
	Execute()
}
