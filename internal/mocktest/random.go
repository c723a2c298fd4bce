package mocktest

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"
)

type intner interface {
	IntN(n int) int
}

// lockedRand makes a *rand.Rand safe for the concurrent handlers of a Service.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// shuffle is an in-place Fisher-Yates shuffle: walk i down from the end and
// swap with a partner drawn uniformly from [0, i].
func shuffle[T any](rnd intner, xs []T) {
	for i := len(xs) - 1; i > 0; i-- {
		j := rnd.IntN(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}

// paperZone is the fixed UTC+05:30 offset paper ids are stamped in,
// independent of the server locale.
var paperZone = time.FixedZone("IST", 5*60*60+30*60)

// NewPaperID builds <3-letter trade prefix><YYYYMMDD><HHMM><2 random letters>.
func NewPaperID(tradeName string, now time.Time, rnd intner) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(tradeName) {
		if b.Len() == 3 {
			break
		}
		if r <= unicode.MaxASCII && unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	for b.Len() < 3 {
		b.WriteByte('X')
	}
	b.WriteString(now.In(paperZone).Format("200601021504"))
	for i := 0; i < 2; i++ {
		b.WriteByte(byte('A' + rnd.IntN(26)))
	}
	return b.String()
}
