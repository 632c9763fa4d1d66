package common

import "fmt"

// Artifact names are the only link between independently-produced per-slide
// files: video assembly pairs frames with audio purely by lexicographic sort
// order. Every name here is zero-padded so that ASCII sort order equals
// numeric slide order (slide09.wav before slide10.wav).

// FrameBaseName is the output template handed to the renderer; marp-cli
// derives the frame sequence deck.001.png, deck.002.png, ... from it.
const FrameBaseName = "deck.png"

// FrameGlob matches the renderer's frame sequence.
const FrameGlob = "deck.*.png"

// AudioClipGlob matches per-slide narration clips.
const AudioClipGlob = "slide*.wav"

// PadWidth returns the zero-pad width for a run with the given highest slide
// number: at least 2 digits, growing when the deck exceeds 99 slides.
func PadWidth(maxNumber int) int {
	width := 2
	for n := maxNumber; n > 99; n /= 10 {
		width++
	}
	return width
}

// AudioClipName names the narration clip for a slide. maxNumber is the
// highest slide number in the plan so every clip in a run shares one width.
func AudioClipName(slideNumber, maxNumber int) string {
	return fmt.Sprintf("slide%0*d.wav", PadWidth(maxNumber), slideNumber)
}

// FigureImageName names extracted figure images. Figures use a 1-based
// counter independent of slide numbering.
func FigureImageName(figureNumber int) string {
	return fmt.Sprintf("figure-%d.png", figureNumber)
}

// ClipName names an intermediate per-slide video clip inside the assembly
// workspace. index is 0-based; total sizes the pad width.
func ClipName(index, total int) string {
	return fmt.Sprintf("clip_%0*d.mp4", PadWidth(total), index+1)
}
