package cdpcontrol

import "context"

// SessionKV stores values in the page's sessionStorage, which lives exactly
// as long as the browsing session of the tab.
type SessionKV struct {
	eval Evaluator
}

func NewSessionKV(eval Evaluator) *SessionKV {
	return &SessionKV{eval: eval}
}

func (s *SessionKV) Get(ctx context.Context, key string) (string, bool, error) {
	var out struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := s.eval.Eval(ctx, jsSessionGet(key), &out); err != nil {
		return "", false, err
	}
	return out.Value, out.Found, nil
}

func (s *SessionKV) Set(ctx context.Context, key, value string) error {
	return s.eval.Eval(ctx, jsSessionSet(key, value), nil)
}

func (s *SessionKV) Delete(ctx context.Context, key string) error {
	return s.eval.Eval(ctx, jsSessionDelete(key), nil)
}
