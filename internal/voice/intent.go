package voice

import (
	"strings"
	"unicode"
)

// Intent is a recognized spoken command.
type Intent string

const (
	// IntentScanMode toggles continuous narration.
	IntentScanMode Intent = "scan_mode"
	// IntentWhatsAhead asks for an immediate description of the view.
	IntentWhatsAhead Intent = "whats_ahead"
	// IntentSwitchLanguage cycles the narration language.
	IntentSwitchLanguage Intent = "switch_language"
	// IntentBatteryReport asks for the battery level.
	IntentBatteryReport Intent = "battery_report"
	// IntentStart and IntentStop control the pipeline.
	IntentStart Intent = "start"
	IntentStop  Intent = "stop"
)

// English matching is token based: every keyword must appear as a word.
// Rule order resolves overlaps ("stop scan mode" is a scan toggle, not
// a stop).
var englishRules = []struct {
	intent Intent
	tokens []string
}{
	{IntentScanMode, []string{"scan", "mode"}},
	{IntentWhatsAhead, []string{"ahead"}},
	{IntentWhatsAhead, []string{"front"}},
	{IntentSwitchLanguage, []string{"language"}},
	{IntentBatteryReport, []string{"battery"}},
	{IntentStop, []string{"stop"}},
	{IntentStart, []string{"start"}},
}

// Chinese matching is substring based: recognizers emit no word
// boundaries for Mandarin.
var chineseRules = []struct {
	intent Intent
	substr string
}{
	{IntentScanMode, "扫描"},
	{IntentWhatsAhead, "前方"},
	{IntentWhatsAhead, "前面"},
	{IntentSwitchLanguage, "语言"},
	{IntentSwitchLanguage, "中文"},
	{IntentSwitchLanguage, "英文"},
	{IntentBatteryReport, "电池"},
	{IntentBatteryReport, "电量"},
	{IntentStop, "停止"},
	{IntentStop, "暂停"},
	{IntentStart, "开始"},
	{IntentStart, "启动"},
}

// Parse maps a transcription to an intent. Both language tables are
// always consulted, so a bilingual model needs no routing. Unmatched
// text returns false and is ignored upstream.
func Parse(text string) (Intent, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}

	words := strings.Fields(norm)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	for _, r := range englishRules {
		matched := true
		for _, tok := range r.tokens {
			if !set[tok] {
				matched = false
				break
			}
		}
		if matched {
			return r.intent, true
		}
	}

	compact := strings.ReplaceAll(norm, " ", "")
	for _, r := range chineseRules {
		if strings.Contains(compact, r.substr) {
			return r.intent, true
		}
	}
	return "", false
}

// normalize lowercases and strips everything but letters and digits.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
