// Command reelforge runs one of three roles against the same config:
// serve (the HTTP surface), worker (the asynq pipeline consumer), or
// scheduler (the reaper + abandoned-job detector). Grounded on
// xifofo-film-fusion's cmd/root.go + cmd/server.go cobra split.
package main

func main() {
	Execute()
}
