package main

import "github.com/mbilal031/HID-PICO-OCR/cmd"

func main() {
	cmd.Execute()
}
