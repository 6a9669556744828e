package main

import "logrelay/internal/app"

func main() {
	app.Run()
}
