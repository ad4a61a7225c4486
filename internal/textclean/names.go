package textclean

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// NameExtractor finds likely character names in narrative text. Implementations
// are heuristics; callers must tolerate misses and false positives.
type NameExtractor interface {
	ExtractCandidateNames(text string) []string
}

// HeuristicNames recognizes speech-tag and title patterns in Han and Latin text.
type HeuristicNames struct {
	Max int // maximum names returned, 8 when zero
}

// commonSurnames is the leading-character allowlist for Han names.
const commonSurnames = "赵钱孙李周吴郑王冯陈褚卫蒋沈韩杨朱秦许何吕施张孔曹严华金魏陶姜谢邹柏窦章云苏潘葛范彭鲁韦马苗凤方俞任袁柳鲍史唐费廉岑薛雷贺倪汤殷罗毕郝安常乐于傅齐康伍余元顾孟平黄穆萧尹姚邵汪祁毛狄米贝明戴宋庞熊纪舒屈项祝董梁杜阮蓝季贾路江童颜郭梅盛林钟徐邱骆高夏蔡田胡霍万柯管卢莫房丁邓洪包左石崔吉龚程裴陆荣翁惠曲段焦宫宁甘武刘景龙叶司黎白乔闻谭姬申桑燕尚温庄晏柴阎艾容向易廖欧沈聂冷简曾关游楚慕"

var titleSuffixes = []string{"教授", "医生", "老板", "队长", "先生", "小姐", "同学", "将军", "师父"}

var (
	hanSpeechRe = regexp.MustCompile(`(?:^|[，。！？、“”\s])(\p{Han}{2,4}?)(?:低声|轻声|冷声)?(?:说|问|喊|笑|看着|看向|盯着|回答|点头)`)
	hanTitleRe  = regexp.MustCompile(`(?:^|[，。！？、“”\s])(\p{Han}{1,2}(?:教授|医生|老板|队长|先生|小姐|同学|将军|师父))`)
	latinRe     = regexp.MustCompile(`\b([A-Z][a-z]+(?: [A-Z][a-z]+)?) (?:said|asked|replied|shouted|whispered|nodded|smiled|laughed|looked|frowned)\b`)
	latinTitle  = regexp.MustCompile(`\b((?:Captain|Doctor|Dr\.|Professor|Lord|Lady|General|Master) [A-Z][a-z]+)\b`)
)

var nameStopwords = map[string]bool{
	"主角": true, "章节": true, "目标": true, "众人": true, "他们": true, "我们": true, "大家": true,
	"He": true, "She": true, "They": true, "It": true, "The": true, "Then": true, "Everyone": true,
}

// ExtractCandidateNames returns unique names in discovery order.
func (h HeuristicNames) ExtractCandidateNames(text string) []string {
	limit := h.Max
	if limit <= 0 {
		limit = 8
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var names []string
	seen := map[string]bool{}
	add := func(n string) bool {
		if n == "" || seen[n] {
			return false
		}
		seen[n] = true
		names = append(names, n)
		return len(names) >= limit
	}

	for _, m := range hanTitleRe.FindAllStringSubmatch(text, -1) {
		if add(validateHanTitled(m[1])) {
			return names
		}
	}
	for _, m := range hanSpeechRe.FindAllStringSubmatch(text, -1) {
		if add(validateHan(m[1])) {
			return names
		}
	}
	for _, re := range []*regexp.Regexp{latinTitle, latinRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if nameStopwords[m[1]] {
				continue
			}
			if add(m[1]) {
				return names
			}
		}
	}
	return names
}

func validateHan(name string) string {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 4 || nameStopwords[name] {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(name)
	if !strings.ContainsRune(commonSurnames, first) {
		return ""
	}
	for _, fc := range []rune(name)[1:] {
		if strings.ContainsRune(FunctionChars, fc) {
			return ""
		}
	}
	return name
}

func validateHanTitled(name string) string {
	for _, suffix := range titleSuffixes {
		stem, ok := strings.CutSuffix(name, suffix)
		if !ok {
			continue
		}
		if stem == "" || utf8.RuneCountInString(stem) > 2 {
			return ""
		}
		first, _ := utf8.DecodeRuneInString(stem)
		if !strings.ContainsRune(commonSurnames, first) {
			return ""
		}
		return name
	}
	return ""
}
