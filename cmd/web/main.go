package main

import "skylearn_backend/internal/app"

func main() {
	app.Run()
}
