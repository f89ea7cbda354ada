package output

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// humanMode gates every Print* call between spec §6/§7's two output
// contracts: JSON mode ("stderr must remain empty and all output is exactly
// one JSON document on stdout") and human mode ("a one-line human message
// goes to stderr; stdout stays silent" on failure, readable key/value lines
// on success). Root's --json flag is the only writer; a process-global is
// safe because one zjj invocation runs exactly one command.
var humanMode atomic.Bool

// SetHumanMode toggles rendering for the remainder of the process. Called
// once from the CLI root's persistent flag resolution.
func SetHumanMode(on bool) {
	humanMode.Store(on)
}

// IsHuman reports the current rendering mode.
func IsHuman() bool {
	return humanMode.Load()
}

// RenderSuccess writes a successful result in whichever mode is active.
func RenderSuccess(data interface{}) error {
	if humanMode.Load() {
		return writeHumanSuccess(os.Stdout, data)
	}
	return Print(Success(data))
}

// RenderError writes a failure in whichever mode is active. JSON mode emits
// the full envelope to stdout, per spec §7 stderr stays empty. Human mode
// writes one line to stderr and leaves stdout silent.
func RenderError(err error) error {
	if humanMode.Load() {
		return writeHumanError(os.Stderr, err)
	}
	return Print(Error(err))
}

func writeHumanError(w io.Writer, err error) error {
	resp := Error(err)
	msg := resp.Error.Message
	if re, ok := toRecoverable(err); ok {
		if re.SuggestedAction() != "" {
			msg = fmt.Sprintf("%s (%s): %s", re.ErrorCode(), msg, re.SuggestedAction())
		} else {
			msg = fmt.Sprintf("%s: %s", re.ErrorCode(), msg)
		}
	}
	_, writeErr := fmt.Fprintf(w, "error: %s\n", msg)
	return writeErr
}

func toRecoverable(err error) (recoverableError, bool) {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if re, ok := e.(recoverableError); ok {
			return re, true
		}
		u, ok := e.(unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return nil, false
}

// writeHumanSuccess renders data as sorted "key: value" lines, one per
// exported field, humanizing time.Time fields to relative terms ("3 minutes
// ago") the way an operator watching lock TTLs or queue age would want them
// (spec §6's "thin CLI collaborator", SPEC_FULL.md's human-mode duration/
// relative-time wiring for go-humanize).
func writeHumanSuccess(w io.Writer, data interface{}) error {
	if data == nil {
		return nil
	}
	lines := humanLines("", reflect.ValueOf(data))
	if len(lines) == 0 {
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

func humanLines(prefix string, v reflect.Value) []string {
	if !v.IsValid() {
		return nil
	}
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		if v.Type() == timeType {
			return []string{fmt.Sprintf("%s: %s", prefix, humanize.Time(v.Interface().(time.Time)))}
		}
		var lines []string
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue // unexported
			}
			name := jsonFieldName(f)
			if name == "-" {
				continue
			}
			key := name
			if prefix != "" {
				key = prefix + "." + name
			}
			lines = append(lines, humanLines(key, v.Field(i))...)
		}
		return lines
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return []string{fmt.Sprintf("%s: (none)", prefix)}
		}
		var lines []string
		for i := 0; i < v.Len(); i++ {
			lines = append(lines, humanLines(fmt.Sprintf("%s[%d]", prefix, i), v.Index(i))...)
		}
		return lines
	case reflect.Map:
		if v.Len() == 0 {
			return []string{fmt.Sprintf("%s: (none)", prefix)}
		}
		var keys []string
		for _, k := range v.MapKeys() {
			keys = append(keys, fmt.Sprintf("%v", k.Interface()))
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s.%s: %v", prefix, k, v.MapIndex(reflect.ValueOf(k)).Interface()))
		}
		return lines
	default:
		if prefix == "" {
			return []string{fmt.Sprintf("%v", v.Interface())}
		}
		return []string{fmt.Sprintf("%s: %v", prefix, v.Interface())}
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return f.Name
	}
	return name
}
