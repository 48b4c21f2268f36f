package parser

// MatchBracket 从 text[start] 处的开括号出发，寻找与之配对的闭括号下标。
// 未闭合（流式传输的正常中间态）返回 -1，不视为错误。
// 跟踪字符串与转义状态，字符串内部的括号不参与配对。
// 同时适用于 [...] 与 {...}。
func MatchBracket(text string, start int) int {
	if start < 0 || start >= len(text) {
		return -1
	}

	open := text[start]
	var close byte
	switch open {
	case '[':
		close = ']'
	case '{':
		close = '}'
	default:
		return -1
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}
