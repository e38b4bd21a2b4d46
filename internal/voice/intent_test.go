package voice

import "testing"

func TestParseIntents(t *testing.T) {
	cases := []struct {
		text string
		want Intent
	}{
		{"Enable scan mode", IntentScanMode},
		{"disable scan mode", IntentScanMode},
		{"stop scan mode", IntentScanMode},
		{"What's ahead?", IntentWhatsAhead},
		{"what is in front of me", IntentWhatsAhead},
		{"Switch language mode", IntentSwitchLanguage},
		{"Battery report", IntentBatteryReport},
		{"battery status please", IntentBatteryReport},
		{"start", IntentStart},
		{"please stop", IntentStop},
		{"开启扫描模式", IntentScanMode},
		{"前方有什么", IntentWhatsAhead},
		{"前面有什么东西", IntentWhatsAhead},
		{"切换语言模式", IntentSwitchLanguage},
		{"切换为中文", IntentSwitchLanguage},
		{"电池报告", IntentBatteryReport},
		{"电量多少", IntentBatteryReport},
		{"停止", IntentStop},
		{"暂停一下", IntentStop},
		{"开始", IntentStart},
		{"启动扫描", IntentScanMode},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got, ok := Parse(tc.text)
			if !ok {
				t.Fatalf("Parse(%q) matched nothing, want %s", tc.text, tc.want)
			}
			if got != tc.want {
				t.Errorf("Parse(%q) = %s, want %s", tc.text, got, tc.want)
			}
		})
	}
}

func TestParseIgnoresUnmatched(t *testing.T) {
	for _, text := range []string{
		"",
		"   ",
		"hello there",
		"what a nice day",
		"the weather is terrible",
		"今天天气不错",
	} {
		if intent, ok := Parse(text); ok {
			t.Errorf("Parse(%q) = %s, want no match", text, intent)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"What's ahead?", "what s ahead"},
		{"  Battery,   report!  ", "battery report"},
		{"切换语言。", "切换语言"},
		{"...", ""},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
