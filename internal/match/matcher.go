// Package match groups normalized records from every source into sets that
// describe the same facility.
package match

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/normalize"
)

// simEpsilon treats similarities this close as equal when tie-breaking.
const simEpsilon = 1e-9

// Candidate is a normalized record offered to the matcher together with
// what is already known about it from stored leads.
type Candidate struct {
	Record *model.NormalizedRecord

	// PriorLeadUID is the stored lead this record is attributed to, if any.
	PriorLeadUID    string
	PriorConfidence float64
	PriorMethod     model.MatchMethod

	// FirstSeen is the stored lead's first_seen, or the ingestion time for
	// records never seen before.
	FirstSeen time.Time
}

// Member is a record placed in a group.
type Member struct {
	Candidate
	Confidence float64
	Method     model.MatchMethod
}

// Group is a set of records judged to describe one facility. It holds at
// most one record per source.
type Group struct {
	Members      []Member
	PriorLeadUID string
	Suppressed   bool
}

// Method is the weakest method any member joined by.
func (g *Group) Method() model.MatchMethod {
	for _, m := range g.Members {
		if m.Method == model.MatchAddressNameFuzzy {
			return model.MatchAddressNameFuzzy
		}
	}
	if len(g.Members) > 1 {
		return model.MatchExactID
	}
	return model.MatchSingleton
}

// FirstSeen is the earliest first_seen among the members.
func (g *Group) FirstSeen() time.Time {
	return earliest(g.Members)
}

// Result is the outcome of one matching pass.
type Result struct {
	Groups     []*Group
	Warnings   []*model.MatchAmbiguityWarning
	ExactJoins int
	FuzzyJoins int
	Suppressed int
}

// Matcher runs the exact identifier phase followed by the blocked fuzzy
// phase.
type Matcher struct {
	cfg Config
}

// New creates a Matcher.
func New(cfg Config) *Matcher {
	if cfg.NameThreshold <= 0 {
		cfg.NameThreshold = DefaultConfig().NameThreshold
	}
	return &Matcher{cfg: cfg}
}

// Match groups the candidates. The result does not depend on input order.
// Candidates must be unique by (source, source_id).
func (m *Matcher) Match(cands []Candidate) *Result {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Record, sorted[j].Record
		if a.Source != b.Source {
			return a.Source.Rank() < b.Source.Rank()
		}
		return a.SourceID < b.SourceID
	})

	s := newState(sorted)
	res := &Result{}
	m.exactPhase(s, res)
	m.fuzzyPhase(s, res)
	if m.cfg.SuppressIndividualsAtOrg {
		m.suppressIndividuals(s, res)
	}
	res.Groups = s.groups()
	return res
}

type state struct {
	cands   []Candidate
	tokens  [][]string
	parent  []int
	members map[int][]int
	sources map[int]uint8
	anchor  map[int]string
	matched []bool
	conf    []float64
	method  []model.MatchMethod
	drop    map[int]bool
}

func newState(cands []Candidate) *state {
	n := len(cands)
	s := &state{
		cands:   cands,
		tokens:  make([][]string, n),
		parent:  make([]int, n),
		members: make(map[int][]int, n),
		sources: make(map[int]uint8, n),
		anchor:  make(map[int]string, n),
		matched: make([]bool, n),
		conf:    make([]float64, n),
		method:  make([]model.MatchMethod, n),
		drop:    make(map[int]bool),
	}
	for i, c := range cands {
		s.tokens[i] = normalize.NameTokens(c.Record.FacilityName)
		s.parent[i] = i
		s.members[i] = []int{i}
		s.sources[i] = 1 << uint(c.Record.Source.Rank())
		s.anchor[i] = c.PriorLeadUID
		s.conf[i] = 1
		s.method[i] = model.MatchSingleton
	}
	return s
}

func (s *state) find(i int) int {
	for s.parent[i] != i {
		s.parent[i] = s.parent[s.parent[i]]
		i = s.parent[i]
	}
	return i
}

// conflict explains why two components may not be joined, or returns "".
func (s *state) conflict(ra, rb int) string {
	if s.sources[ra]&s.sources[rb] != 0 {
		return "source already present in group"
	}
	if s.anchor[ra] != "" && s.anchor[rb] != "" && s.anchor[ra] != s.anchor[rb] {
		return "both groups belong to stored leads"
	}
	return ""
}

// union joins two roots. The smaller index stays root so that a root is
// always the first member in sort order.
func (s *state) union(ra, rb int) int {
	if rb < ra {
		ra, rb = rb, ra
	}
	s.parent[rb] = ra
	merged := append(s.members[ra], s.members[rb]...)
	sort.Ints(merged)
	s.members[ra] = merged
	s.sources[ra] |= s.sources[rb]
	if s.anchor[ra] == "" {
		s.anchor[ra] = s.anchor[rb]
	}
	delete(s.members, rb)
	delete(s.sources, rb)
	delete(s.anchor, rb)
	return ra
}

func (s *state) key(i int) string {
	return s.cands[i].Record.Key()
}

func (s *state) rootKeys(r int) []string {
	out := make([]string, 0, len(s.members[r]))
	for _, i := range s.members[r] {
		out = append(out, s.key(i))
	}
	return out
}

func (s *state) firstSeen(r int) time.Time {
	var t time.Time
	for _, i := range s.members[r] {
		fs := s.cands[i].FirstSeen
		if t.IsZero() || fs.Before(t) {
			t = fs
		}
	}
	return t
}

// exact key prefixes in order of decreasing reliability.
var exactKeyRank = map[string]int{"lead": 0, "npi": 1, "lic": 2, "ccn": 3}

func keyRank(k string) int {
	prefix, _, _ := strings.Cut(k, ":")
	if r, ok := exactKeyRank[prefix]; ok {
		return r
	}
	return len(exactKeyRank)
}

func (m *Matcher) exactPhase(s *state, res *Result) {
	log := zap.L().With(zap.String("component", "match"))

	index := make(map[string][]int)
	for i, c := range s.cands {
		if c.PriorLeadUID != "" {
			index["lead:"+c.PriorLeadUID] = append(index["lead:"+c.PriorLeadUID], i)
		}
		for _, x := range c.Record.XRefs {
			index[x] = append(index[x], i)
		}
	}

	keys := make([]string, 0, len(index))
	for k, idx := range index {
		if len(idx) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if ri, rj := keyRank(keys[i]), keyRank(keys[j]); ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		idx := index[k]
		first := idx[0]
		for _, j := range idx[1:] {
			ra, rb := s.find(first), s.find(j)
			if ra == rb {
				continue
			}
			if reason := s.conflict(ra, rb); reason != "" {
				w := &model.MatchAmbiguityWarning{
					RecordKey:  s.key(j),
					Candidates: s.rootKeys(ra),
					Chosen:     "",
					Similarity: 1,
					Reason:     "exact key " + k + ": " + reason,
				}
				res.Warnings = append(res.Warnings, w)
				log.Warn("match: exact join refused", zap.String("record", w.RecordKey), zap.String("reason", w.Reason))
				continue
			}
			s.union(ra, rb)
			s.markExact(first, k)
			s.markExact(j, k)
			res.ExactJoins++
		}
	}
}

func (s *state) markExact(i int, key string) {
	if s.matched[i] {
		return
	}
	s.matched[i] = true
	c := s.cands[i]
	if strings.HasPrefix(key, "lead:") && c.PriorConfidence > 0 {
		s.conf[i] = c.PriorConfidence
		s.method[i] = c.PriorMethod
		if s.method[i] == "" || s.method[i] == model.MatchSingleton {
			s.method[i] = model.MatchExactID
		}
		return
	}
	s.conf[i] = 1
	s.method[i] = model.MatchExactID
}

// fuzzyPair offers unmatched record rec to the group rooted at root (as the
// groups stood after the exact phase).
type fuzzyPair struct {
	rec       int
	root      int
	sim       float64
	firstSeen time.Time
}

// fuzzyPhase ranks every eligible record-to-group pair, then assigns in rank
// order: highest similarity, then the group seen earliest, then index. Each
// unmatched record joins at most one group, and it is the best one still
// open to it when its turn comes, so the outcome never depends on how source
// ids happen to sort.
func (m *Matcher) fuzzyPhase(s *state, res *Result) {
	log := zap.L().With(zap.String("component", "match"))

	blocks := make(map[string][]int)
	for i, c := range s.cands {
		if c.Record.Zip5 == "" {
			continue
		}
		for _, b := range blockKeys(c.Record) {
			blocks[b] = append(blocks[b], i)
		}
	}

	var pairs []fuzzyPair
	offers := make(map[int][]fuzzyPair)
	for i, c := range s.cands {
		if s.matched[i] || c.Record.Zip5 == "" {
			continue
		}
		ri := s.find(i)
		seen := map[int]bool{ri: true}
		for _, b := range blockKeys(c.Record) {
			for _, j := range blocks[b] {
				rj := s.find(j)
				if seen[rj] {
					continue
				}
				seen[rj] = true
				if s.conflict(ri, rj) != "" {
					continue
				}
				if sim := s.groupSimilarity(i, rj); sim >= m.cfg.NameThreshold {
					p := fuzzyPair{rec: i, root: rj, sim: sim, firstSeen: s.firstSeen(rj)}
					pairs = append(pairs, p)
					offers[i] = append(offers[i], p)
				}
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairBefore(pairs[a], pairs[b]) })

	for _, p := range pairs {
		if s.matched[p.rec] {
			continue
		}
		ri, rj := s.find(p.rec), s.find(p.root)
		if ri == rj || s.conflict(ri, rj) != "" {
			continue
		}
		targetWasSingle := len(s.members[rj]) == 1
		s.union(ri, rj)
		s.matched[p.rec] = true
		s.conf[p.rec] = p.sim
		s.method[p.rec] = model.MatchAddressNameFuzzy
		if targetWasSingle && !s.matched[p.root] {
			s.matched[p.root] = true
			s.conf[p.root] = p.sim
			s.method[p.root] = model.MatchAddressNameFuzzy
		}
		res.FuzzyJoins++
	}

	for i := range s.cands {
		offered := offers[i]
		if len(offered) < 2 {
			continue
		}
		sort.Slice(offered, func(a, b int) bool { return pairBefore(offered[a], offered[b]) })
		cands := make([]string, 0, len(offered))
		chosen, best := "", 0.0
		for _, p := range offered {
			cands = append(cands, s.key(p.root))
			if chosen == "" && s.find(p.root) == s.find(i) {
				chosen, best = s.key(p.root), p.sim
			}
		}
		w := &model.MatchAmbiguityWarning{
			RecordKey:  s.key(i),
			Candidates: cands,
			Chosen:     chosen,
			Similarity: best,
			Reason:     "record fits more than one group",
		}
		res.Warnings = append(res.Warnings, w)
		log.Warn("match: ambiguous fuzzy match",
			zap.String("record", w.RecordKey),
			zap.Strings("candidates", cands),
			zap.String("chosen", w.Chosen),
			zap.Float64("similarity", best),
		)
	}
}

func pairBefore(a, b fuzzyPair) bool {
	if math.Abs(a.sim-b.sim) > simEpsilon {
		return a.sim > b.sim
	}
	if !a.firstSeen.Equal(b.firstSeen) {
		return a.firstSeen.Before(b.firstSeen)
	}
	if a.rec != b.rec {
		return a.rec < b.rec
	}
	return a.root < b.root
}

// groupSimilarity is the best name similarity between record i and any
// member of group r in the same zip5 from a different source.
func (s *state) groupSimilarity(i, r int) float64 {
	rec := s.cands[i].Record
	best := 0.0
	for _, k := range s.members[r] {
		other := s.cands[k].Record
		if other.Zip5 != rec.Zip5 || other.Source == rec.Source {
			continue
		}
		if sim := tokenSimilarity(s.tokens[i], s.tokens[k]); sim > best {
			best = sim
		}
	}
	return best
}

func blockKeys(r *model.NormalizedRecord) []string {
	return []string{
		"m:" + r.MatchKey,
		"l:" + normalize.LooseBlockKey(r.AddressLine1, r.Zip5),
	}
}

func (m *Matcher) suppressIndividuals(s *state, res *Result) {
	orgAddr := make(map[string]bool)
	for _, c := range s.cands {
		if c.Record.EntityType == model.EntityOrganization && c.Record.AddressLine1 != "" {
			orgAddr[c.Record.MatchKey] = true
		}
	}
	for i, c := range s.cands {
		r := s.find(i)
		if r != i || len(s.members[r]) != 1 || s.anchor[r] != "" {
			continue
		}
		rec := c.Record
		if rec.EntityType == model.EntityIndividual && rec.AddressLine1 != "" && orgAddr[rec.MatchKey] {
			s.drop[r] = true
			res.Suppressed++
			zap.L().Debug("match: suppressed individual at organization address",
				zap.String("record", s.key(i)),
				zap.String("match_key", rec.MatchKey),
			)
		}
	}
}

func (s *state) groups() []*Group {
	byRoot := make(map[int]*Group)
	var out []*Group
	for i := range s.cands {
		r := s.find(i)
		g, ok := byRoot[r]
		if !ok {
			g = &Group{PriorLeadUID: s.anchor[r], Suppressed: s.drop[r]}
			byRoot[r] = g
			out = append(out, g)
		}
		g.Members = append(g.Members, Member{
			Candidate:  s.cands[i],
			Confidence: s.conf[i],
			Method:     s.method[i],
		})
	}
	return out
}

func earliest(ms []Member) time.Time {
	var t time.Time
	for _, m := range ms {
		if t.IsZero() || m.FirstSeen.Before(t) {
			t = m.FirstSeen
		}
	}
	return t
}
