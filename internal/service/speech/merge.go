package speech

import "encoding/json"

// Outcome 一次会话接收到的全部结果
type Outcome struct {
	SessionID string
	// Result 合并后的结果；没有任何有效负载时 Kind 为 FragmentEmpty，分数全为 0
	Result    Fragment
	Fragments []Fragment
	Frames    int
	Raw       []json.RawMessage
}

// mergeFragments 第一个 Complete 片段为权威结果；没有 Complete 时取第一个 Partial，
// 两者都没有时返回全零的 Empty 片段。
func mergeFragments(fragments []Fragment) Fragment {
	var partial *Fragment
	for i := range fragments {
		switch fragments[i].Kind {
		case FragmentComplete:
			return fragments[i]
		case FragmentPartial:
			if partial == nil {
				partial = &fragments[i]
			}
		}
	}
	if partial != nil {
		return *partial
	}
	return Fragment{Kind: FragmentEmpty}
}
