/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Device-specific quirks
 */

package main

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

// Quirk represents a single quirk
type Quirk struct {
	Origin    string       // file:line of definition
	Match     string       // Match pattern
	MatchHWID *HWIDPattern // HWID match pattern or nil
	Name      string       // Quirk name
	RawValue  string       // Quirk raw (not parsed) value
	Parsed    interface{}  // Parsed Value
	LoadOrder int          // Incremented in order of loading
}

// Quirk names. Use these constants instead of literal strings,
// so compiler will catch a mistake:
const (
	QuirkNmBlacklist        = "blacklist"
	QuirkNmMfg              = "mfg"
	QuirkNmModel            = "model"
	QuirkNmSerialOverride   = "serial-override"
	QuirkNmInitDelay        = "init-delay"
	QuirkNmInitReset        = "init-reset"
	QuirkNmInitRetryPartial = "init-retry-partial"
	QuirkNmInitTimeout      = "init-timeout"
	QuirkNmForceT0          = "force-t0"
	QuirkNmNoAutoVoltage    = "no-auto-voltage"
	QuirkNmMaxIFSD          = "max-ifsd"
)

// quirkParse maps quirk names into appropriate parsing methods,
// which defines value syntax and resulting type.
var quirkParse = map[string]func(*Quirk) error{
	QuirkNmBlacklist:        (*Quirk).parseBool,
	QuirkNmMfg:              (*Quirk).parseString,
	QuirkNmModel:            (*Quirk).parseString,
	QuirkNmSerialOverride:   (*Quirk).parseString,
	QuirkNmInitDelay:        (*Quirk).parseDuration,
	QuirkNmInitReset:        (*Quirk).parseQuirkResetMethod,
	QuirkNmInitRetryPartial: (*Quirk).parseBool,
	QuirkNmInitTimeout:      (*Quirk).parseDuration,
	QuirkNmForceT0:          (*Quirk).parseBool,
	QuirkNmNoAutoVoltage:    (*Quirk).parseBool,
	QuirkNmMaxIFSD:          (*Quirk).parseUint,
}

// quirkDefaultStrings contains default values for quirks, in
// a string form.
var quirkDefaultStrings = map[string]string{
	QuirkNmBlacklist:        "false",
	QuirkNmMfg:              "",
	QuirkNmModel:            "",
	QuirkNmSerialOverride:   "",
	QuirkNmInitDelay:        "0",
	QuirkNmInitReset:        "none",
	QuirkNmInitRetryPartial: "false",
	QuirkNmInitTimeout:      DevInitTimeout.String(),
	QuirkNmForceT0:          "false",
	QuirkNmNoAutoVoltage:    "false",
	QuirkNmMaxIFSD:          "0",
}

// quirkDefault contains default values for quirks, precompiled.
var quirkDefault = make(map[string]*Quirk)

// init populates quirkDefault using quirk values from quirkDefaultStrings.
func init() {
	for name, value := range quirkDefaultStrings {
		q := &Quirk{
			Origin:    "default",
			Match:     "*",
			Name:      name,
			RawValue:  value,
			LoadOrder: math.MaxInt32,
		}

		parse := quirkParse[name]
		err := parse(q)
		if err != nil {
			panic(err)
		}

		quirkDefault[name] = q
	}
}

// isHWID reports if Quirk is matched by HWID
func (q *Quirk) isHWID() bool {
	return q.MatchHWID != nil
}

// parseString parses and saves [Quirk.RawValue] as string.
func (q *Quirk) parseString() error {
	q.Parsed = q.RawValue
	return nil
}

// parseBool parses and saves [Quirk.RawValue] as bool.
func (q *Quirk) parseBool() error {
	switch q.RawValue {
	case "true":
		q.Parsed = true
	case "false":
		q.Parsed = false
	default:
		return fmt.Errorf("%q: must be true or false", q.RawValue)
	}

	return nil
}

// parseUint parses [Quirk.RawValue] as unsigned int.
func (q *Quirk) parseUint() error {
	v, err := strconv.ParseUint(q.RawValue, 10, 32)
	if err != nil {
		return fmt.Errorf("%q: invalid unsigned integer", q.RawValue)
	}

	q.Parsed = uint(v)
	return nil
}

// parseDuration parses [Quirk.RawValue] as time.Duration.
func (q *Quirk) parseDuration() error {
	// Try to parse as uint. If OK, interpret it
	// as a millisecond time.
	ms, err := strconv.ParseUint(q.RawValue, 10, 32)
	if err == nil {
		q.Parsed = time.Millisecond * time.Duration(ms)
		return nil
	}

	// Try to use time.ParseDuration.
	if strings.HasPrefix(q.RawValue, "+") ||
		strings.HasPrefix(q.RawValue, "-") {
		// Note, time.ParseDuration allows signed duration,
		// but we don't.
		return fmt.Errorf("%q: invalid duration", q.RawValue)
	}

	v, err := time.ParseDuration(q.RawValue)
	if err == nil && v >= 0 {
		q.Parsed = v
		return nil
	}

	return fmt.Errorf("%q: invalid duration", q.RawValue)
}

// parseQuirkResetMethod parses [Quirk.RawValue] as QuirkResetMethod.
func (q *Quirk) parseQuirkResetMethod() error {
	switch q.RawValue {
	case "none":
		q.Parsed = QuirkResetNone
	case "soft":
		if q.isHWID() {
			return fmt.Errorf("%s = %s not available in HWID mode",
				q.Name, q.RawValue)
		}

		q.Parsed = QuirkResetSoft
	case "hard":
		q.Parsed = QuirkResetHard
	default:
		return fmt.Errorf("%q: must be none, soft or hard", q.RawValue)
	}

	return nil
}

// QuirkResetMethod represents how to reset the physical token
// during initialization
type QuirkResetMethod int

// QuirkResetNone - don't reset the token at all
// QuirkResetSoft - issue a PC/SC warm reset (SCardReconnect)
// QuirkResetHard - issue a USB port reset before reattaching
const (
	QuirkResetNone QuirkResetMethod = iota
	QuirkResetSoft
	QuirkResetHard
)

// String returns textual representation of QuirkResetMethod
func (m QuirkResetMethod) String() string {
	switch m {
	case QuirkResetNone:
		return "none"
	case QuirkResetSoft:
		return "soft"
	case QuirkResetHard:
		return "hard"
	}

	return fmt.Sprintf("unknown (%d)", int(m))
}

// Quirks is the collection of Quirk, indexed by Quirk.Name.
// All quirks in the collection have a unique name.
//
// It is used for two purposes:
//   - to represent a section in the quirks file
//   - to represent set of quirks, applied to the particular token.
type Quirks struct {
	byName  map[string]*Quirk // Quirks by name
	weights map[string]int    // Matching weights
}

// newQuirks returns a new Quirks structure
func newQuirks() *Quirks {
	return &Quirks{
		byName:  make(map[string]*Quirk),
		weights: make(map[string]int),
	}
}

// put adds Quirk to Quirks, or replaces existing one, if any.
func (quirks *Quirks) put(q *Quirk) {
	quirks.byName[q.Name] = q
}

// prioritizeAndSave puts Quirk to Quirks, if it is either not in the set yet
// or has higher priority that existing one
func (quirks *Quirks) prioritizeAndSave(q *Quirk, weight int) {
	prev := quirks.byName[q.Name]
	prevWeight := quirks.weights[q.Name]

	save := false

	switch {
	// Always save, if the Quirk is not yet in the set
	case prev == nil:
		save = true
	// Choose by matching weight (more specific match wins)
	case weight > prevWeight:
		save = true
	case weight < prevWeight:

	// Choose by load order (last loaded wins)
	case q.LoadOrder > prev.LoadOrder:
		save = true
	}

	if save {
		quirks.put(q)
		quirks.weights[q.Name] = weight
	}
}

// WriteLog writes Quirks to log.
func (quirks *Quirks) WriteLog(title string, log *Logger) {
	if quirks.IsEmpty() {
		log.Debug(' ', "%s: EMPTY", title)
		return
	}

	log.Debug(' ', "%s:", title)

	prevMatch := ""
	for _, q := range quirks.All() {
		val := q.RawValue
		if _, isStr := q.Parsed.(string); isStr {
			val = strconv.Quote(val)
		}

		if q.Match != prevMatch {
			prevMatch = q.Match
			log.Debug(' ', "  [%s]", q.Match)
		}

		log.Debug(' ', "    ; (%s)", q.Origin)
		log.Debug(' ', "    %s = %s", q.Name, val)
	}
}

// IsEmpty reports if Quirks are empty
func (quirks *Quirks) IsEmpty() bool {
	return len(quirks.byName) == 0
}

// Get returns quirk by name.
func (quirks *Quirks) Get(name string) *Quirk {
	var q *Quirk
	if quirks != nil {
		q = quirks.byName[name]
	}
	if q == nil {
		q = quirkDefault[name]
	}

	return q
}

// All returns all quirks in the collection. This method is
// intended mostly for diagnostic purposes (logging, dumping,
// testing and so on).
func (quirks *Quirks) All() []*Quirk {
	qq := make([]*Quirk, 0, len(quirks.byName))
	for _, q := range quirks.byName {
		qq = append(qq, q)
	}

	sort.Slice(qq, func(i, j int) bool {
		return qq[i].Name < qq[j].Name
	})

	return qq
}

// GetBlacklist returns effective "blacklist" parameter,
// taking the whole set into consideration.
func (quirks *Quirks) GetBlacklist() bool {
	return quirks.Get(QuirkNmBlacklist).Parsed.(bool)
}

// GetMfg returns effective "mfg" parameter
// taking the whole set into consideration.
func (quirks *Quirks) GetMfg() string {
	return quirks.Get(QuirkNmMfg).Parsed.(string)
}

// GetModel returns effective "model" parameter
// taking the whole set into consideration.
func (quirks *Quirks) GetModel() string {
	return quirks.Get(QuirkNmModel).Parsed.(string)
}

// GetSerialOverride returns effective "serial-override" parameter
// taking the whole set into consideration.
func (quirks *Quirks) GetSerialOverride() string {
	return quirks.Get(QuirkNmSerialOverride).Parsed.(string)
}

// GetInitDelay returns effective "init-delay" parameter
// taking the whole set into consideration.
func (quirks *Quirks) GetInitDelay() time.Duration {
	return quirks.Get(QuirkNmInitDelay).Parsed.(time.Duration)
}

// GetInitRetryPartial returns effective "init-retry-partial" parameter
// taking the whole set into consideration.
func (quirks *Quirks) GetInitRetryPartial() bool {
	return quirks.Get(QuirkNmInitRetryPartial).Parsed.(bool)
}

// GetInitReset returns effective "init-reset" parameter
// taking the whole set into consideration.
func (quirks *Quirks) GetInitReset() QuirkResetMethod {
	return quirks.Get(QuirkNmInitReset).Parsed.(QuirkResetMethod)
}

// GetInitTimeout returns effective "init-timeout" parameter
// taking the whole set into consideration.
func (quirks *Quirks) GetInitTimeout() time.Duration {
	return quirks.Get(QuirkNmInitTimeout).Parsed.(time.Duration)
}

// GetForceT0 returns effective "force-t0" parameter, forcing the
// CCID bridge to negotiate the T=0 protocol regardless of what the
// card and reader would otherwise agree on.
func (quirks *Quirks) GetForceT0() bool {
	return quirks.Get(QuirkNmForceT0).Parsed.(bool)
}

// GetNoAutoVoltage masks the virtual CCID class descriptor's
// auto-voltage-selection feature bit, forcing the host to drive
// IccPowerOn's voltage selection explicitly instead of Auto.
func (quirks *Quirks) GetNoAutoVoltage() bool {
	return quirks.Get(QuirkNmNoAutoVoltage).Parsed.(bool)
}

// GetMaxIFSD caps the Information Field Size for the Device,
// negotiated during T=1 protocol setup. Zero means "no cap".
func (quirks *Quirks) GetMaxIFSD() uint {
	return quirks.Get(QuirkNmMaxIFSD).Parsed.(uint)
}

// QuirksDb represents in-memory data base of Quirks, as loaded
// from the disk files.
type QuirksDb []*Quirks

// LoadQuirksSet creates new QuirksDb and loads its content from a directory
func LoadQuirksSet(paths ...string) (QuirksDb, error) {
	qdb := QuirksDb{}
	loadOrder := 0

	for _, path := range paths {
		err := qdb.readDir(path, &loadOrder)
		if err != nil {
			return nil, err
		}
	}

	return qdb, nil
}

// readDir loads all Quirks from a directory
func (qdb *QuirksDb) readDir(path string, loadOrder *int) error {
	files, err := ioutil.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = nil
		}
		return err
	}

	for _, file := range files {
		if file.Mode().IsRegular() &&
			strings.HasSuffix(file.Name(), ".conf") {
			err = qdb.readFile(filepath.Join(path, file.Name()), loadOrder)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// readFile reads all Quirks from a single .conf file. Each [section]
// is a match pattern (either a glob over the model name, or a
// VVVV:DDDD HWID pattern); keys within it are quirk names
func (qdb *QuirksDb) readFile(file string, loadOrder *int) error {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, file)
	if err != nil {
		return err
	}

	for _, sec := range cfg.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			if len(sec.Keys()) != 0 {
				return fmt.Errorf("%s: keys must appear inside a [match] section", file)
			}
			continue
		}

		matchHWID := ParseHWIDPattern(name)
		quirks := newQuirks()
		qdb.Add(quirks)

		for _, key := range sec.Keys() {
			origin := fmt.Sprintf("%s[%s]:%s", file, name, key.Name())

			if found := quirks.byName[key.Name()]; found != nil {
				return fmt.Errorf("%s: %q already defined at %s",
					origin, key.Name(), found.Origin)
			}

			q := &Quirk{
				Origin:    origin,
				Match:     name,
				MatchHWID: matchHWID,
				Name:      key.Name(),
				RawValue:  key.Value(),
				LoadOrder: *loadOrder,
			}
			*loadOrder++

			parse := quirkParse[q.Name]
			if parse == nil {
				// Ignore unknown keys, it may be due to
				// downgrade of smredir-relay
				continue
			}

			if err := parse(q); err != nil {
				return fmt.Errorf("%s: %s", origin, err)
			}

			quirks.put(q)
		}
	}

	return nil
}

// Add appends Quirks to QuirksDb
func (qdb *QuirksDb) Add(q *Quirks) {
	*qdb = append(*qdb, q)
}

// MatchByHWID returns collection of quirks, applicable for the
// specific token, matched by HWID
func (qdb QuirksDb) MatchByHWID(vid, pid uint16) *Quirks {
	ret := newQuirks()

	for _, quirks := range qdb {
		for _, q := range quirks.byName {
			if q.isHWID() {
				weight := q.MatchHWID.Match(vid, pid)
				if weight >= 0 {
					ret.prioritizeAndSave(q, weight)
				}
			}
		}
	}

	return ret
}

// MatchByModelName returns collection of quirks, applicable for
// the specific token, matched by model name.
func (qdb QuirksDb) MatchByModelName(model string) *Quirks {
	ret := newQuirks()

	for _, quirks := range qdb {
		for _, q := range quirks.byName {
			if !q.isHWID() {
				// Note, by multiplying GlobMatch by 2,
				// we have the following:
				//   - Exact HWID match is the must
				//     weightful. Its weight is 1000
				//   - The default (all-wildcard) match is
				//     the least weightful. Its weight is 0.
				//   - Any non-default model-name match is
				//     more weightful, that the wildcard
				//     HWID match, which weight is 1
				//   - Weight of any non-default model-name
				//     match is proportional to the length of
				//     the non-wildcard matched part and
				//     it is between the wildcard and exact
				//     HWID match.
				weight := 2 * GlobMatch(model, q.Match)
				if weight >= 0 {
					ret.prioritizeAndSave(q, weight)
				}
			}
		}
	}

	return ret
}
