package main

import (
	"os"
	"strconv"

	"fyne.io/fyne/v2/app"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/yadda07/holesdetection/gui"
	"github.com/yadda07/holesdetection/logging"
)

const AppID = "com.github.yadda07.holesdetection"

func main() {
	_ = godotenv.Load()
	verbose, _ := strconv.ParseBool(os.Getenv("VERBOSE"))
	logging.Setup(verbose)

	log.Info().Msg("=== start holesdetection form ===")
	gui.NewForm(app.NewWithID(AppID)).ShowAndRun()
}
