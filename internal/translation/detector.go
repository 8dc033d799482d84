package translation

import (
	"errors"

	"github.com/abadojack/whatlanggo"
)

// Detector guesses the language of a message body. It is a best-effort
// collaborator: ingestion falls back to a configured locale on any error and
// never fails because detection did.
type Detector interface {
	Detect(text string) (string, error)
}

var ErrUndetectable = errors.New("language not detectable")

// WhatlangDetector detects via trigram analysis. Short or ambiguous inputs
// are reported as undetectable rather than guessed.
type WhatlangDetector struct {
	MinConfidence float64
}

func NewDetector() *WhatlangDetector {
	return &WhatlangDetector{MinConfidence: 0.5}
}

func (d *WhatlangDetector) Detect(text string) (string, error) {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() || info.Confidence < d.MinConfidence {
		return "", ErrUndetectable
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "", ErrUndetectable
	}
	return code, nil
}
