package push

// Outcome は1回のファンアウト配信の集計結果。
type Outcome struct {
	// Success は配信に成功した購読の数。
	Success int `json:"success"`
	// Failed は配信に失敗した購読の数。
	Failed int `json:"failed"`
	// Errors は失敗の内容。審判と原因を含む運用者向けの文字列。
	Errors []string `json:"errors"`
}

// Merge は別の結果を加算する。エラーは末尾に連結する。
func (o *Outcome) Merge(other Outcome) {
	o.Success += other.Success
	o.Failed += other.Failed
	o.Errors = append(o.Errors, other.Errors...)
}

// Attempted は配信を試みた購読の数を返す。
func (o Outcome) Attempted() int {
	return o.Success + o.Failed
}

// MergeAll は複数の結果を1つにまとめる。
func MergeAll(outcomes ...Outcome) Outcome {
	total := Outcome{Errors: []string{}}
	for _, o := range outcomes {
		total.Merge(o)
	}
	return total
}
