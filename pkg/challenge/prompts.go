package challenge

import (
	"golang.org/x/text/language"
)

// DefaultLocale is used when no locale is configured or the requested one
// has no prompt table.
const DefaultLocale = "en"

var promptTables = map[language.Tag]map[Kind]string{
	language.English: {
		LookStraight: "Look straight at the camera",
		Smile:        "Smile",
		TurnLeft:     "Turn your head to the left",
	},
	language.Spanish: {
		LookStraight: "Mira frente a la cámara",
		Smile:        "Sonríe",
		TurnLeft:     "Mira a la izquierda",
	},
}

// English must stay first: the matcher falls back to the first supported tag.
var (
	promptTags    = []language.Tag{language.English, language.Spanish}
	promptMatcher = language.NewMatcher(promptTags)
)

// PromptsFor returns the prompt table that best matches locale. Unknown or
// malformed locales get the English table. The returned map is a copy.
func PromptsFor(locale string) map[Kind]string {
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			_, idx, conf := promptMatcher.Match(parsed)
			if conf != language.No {
				tag = promptTags[idx]
			}
		}
	}

	out := make(map[Kind]string, len(promptTables[tag]))
	for k, v := range promptTables[tag] {
		out[k] = v
	}
	return out
}
