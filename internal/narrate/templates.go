package narrate

import "fmt"

// phrases holds every user-facing string for one language. Strings are
// built by table lookup and Sprintf, no templating engine: the sentences
// are short, the variable parts are a label and a direction.
type phrases struct {
	directions map[string]string // "left", "right", "ahead"

	vehicleApproaching func(direction string) string
	fastMoving         func(label, direction string) string
	veryClose          func(label, direction string) string
	objectAt           func(label, direction string) string

	scenes   map[string]string // scene name -> summary sentence
	crowded  string
	lowLight string
	bright   string

	nothingAhead string

	battery     func(pct int, charging bool) string
	scanOn      string
	scanOff     string
	languageSet string
}

var english = phrases{
	directions: map[string]string{
		"left":  "on your left",
		"right": "on your right",
		"ahead": "ahead",
	},
	vehicleApproaching: func(direction string) string {
		switch direction {
		case "left":
			return "Warning: vehicle approaching from the left"
		case "right":
			return "Warning: vehicle approaching from the right"
		default:
			return "Warning: vehicle approaching ahead"
		}
	},
	fastMoving: func(label, direction string) string {
		return fmt.Sprintf("Caution: fast moving %s %s", label, english.directions[direction])
	},
	veryClose: func(label, direction string) string {
		return fmt.Sprintf("Warning: %s very close %s", label, english.directions[direction])
	},
	objectAt: func(label, direction string) string {
		return fmt.Sprintf("%s %s", label, english.directions[direction])
	},
	scenes: map[string]string{
		"crosswalk": "You appear to be at a crosswalk",
		"office":    "You appear to be in an office",
		"street":    "You appear to be on a street",
		"indoor":    "You appear to be indoors",
	},
	crowded:      "it is crowded around you",
	lowLight:     "lighting is poor",
	bright:       "the view is very bright",
	nothingAhead: "Nothing notable ahead",
	battery: func(pct int, charging bool) string {
		if charging {
			return fmt.Sprintf("Battery at %d percent, charging", pct)
		}
		return fmt.Sprintf("Battery at %d percent", pct)
	},
	scanOn:      "Scan mode enabled",
	scanOff:     "Scan mode disabled",
	languageSet: "Language set to English",
}

var chinese = phrases{
	directions: map[string]string{
		"left":  "左侧",
		"right": "右侧",
		"ahead": "前方",
	},
	vehicleApproaching: func(direction string) string {
		switch direction {
		case "left":
			return "警告：车辆从左侧驶近"
		case "right":
			return "警告：车辆从右侧驶近"
		default:
			return "警告：前方有车辆驶近"
		}
	},
	fastMoving: func(label, direction string) string {
		return fmt.Sprintf("注意：%s有%s快速移动", chinese.directions[direction], labelZH(label))
	},
	veryClose: func(label, direction string) string {
		return fmt.Sprintf("警告：%s%s很近", chinese.directions[direction], labelZH(label))
	},
	objectAt: func(label, direction string) string {
		return fmt.Sprintf("%s有%s", chinese.directions[direction], labelZH(label))
	},
	scenes: map[string]string{
		"crosswalk": "您似乎位于人行横道",
		"office":    "您似乎在办公室内",
		"street":    "您似乎在街道上",
		"indoor":    "您似乎在室内",
	},
	crowded:      "周围人较多",
	lowLight:     "光线较暗",
	bright:       "光线过亮",
	nothingAhead: "前方没有明显物体",
	battery: func(pct int, charging bool) string {
		if charging {
			return fmt.Sprintf("电池电量百分之%d，正在充电", pct)
		}
		return fmt.Sprintf("电池电量百分之%d", pct)
	},
	scanOn:      "已开启扫描模式",
	scanOff:     "已关闭扫描模式",
	languageSet: "已切换为中文",
}

// phrasesFor falls back to English for unknown language codes.
func phrasesFor(lang string) phrases {
	if lang == "zh" {
		return chinese
	}
	return english
}

// chineseLabels maps detector labels to Chinese nouns. Labels without an
// entry are spoken as-is.
var chineseLabels = map[string]string{
	"person":        "行人",
	"car":           "汽车",
	"bus":           "公交车",
	"truck":         "卡车",
	"bicycle":       "自行车",
	"motorcycle":    "摩托车",
	"chair":         "椅子",
	"couch":         "沙发",
	"bed":           "床",
	"desk":          "桌子",
	"dining table":  "餐桌",
	"book":          "书",
	"tv":            "电视",
	"laptop":        "笔记本电脑",
	"computer":      "电脑",
	"door":          "门",
	"stairs":        "楼梯",
	"traffic light": "红绿灯",
	"stop sign":     "停车标志",
	"dog":           "狗",
	"cat":           "猫",
	"backpack":      "背包",
}

func labelZH(label string) string {
	if zh, ok := chineseLabels[label]; ok {
		return zh
	}
	return label
}
