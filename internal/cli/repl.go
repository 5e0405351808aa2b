package cli

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

var errReplArgs = errors.New("wrong number of arguments")

// replCommand is one repl verb. min and max bound the argument count; a
// trailing optional ttl counts toward max.
type replCommand struct {
	usage string
	min   int
	max   int
	run   func(s *replSession, args []string) error
}

// replSession executes repl lines against one open collection.
type replSession struct {
	h        *handle
	o        *IO
	commands map[string]replCommand
}

func newReplSession(h *handle, o *IO) *replSession {
	s := &replSession{h: h, o: o, commands: commonReplCommands()}

	var kindCommands map[string]replCommand

	switch h.Kind() {
	case fastcollection.KindList:
		kindCommands = listReplCommands()
	case fastcollection.KindQueue:
		kindCommands = queueReplCommands()
	case fastcollection.KindStack:
		kindCommands = stackReplCommands()
	case fastcollection.KindSet:
		kindCommands = setReplCommands()
	case fastcollection.KindMap:
		kindCommands = mapReplCommands()
	}

	for name, c := range kindCommands {
		s.commands[name] = c
	}

	return s
}

// exec runs one input line. It reports true when the session should end.
func (s *replSession) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		s.help()

		return false
	}

	c, ok := s.commands[name]
	if !ok {
		s.o.Printf("error: unknown command %q (try help)\n", name)

		return false
	}

	if len(args) < c.min || len(args) > c.max {
		s.o.Printf("error: %v, usage: %s\n", errReplArgs, c.usage)

		return false
	}

	if err := c.run(s, args); err != nil {
		s.o.Println("error:", err)
	}

	return false
}

func (s *replSession) help() {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}

	slices.Sort(names)

	s.o.Printf("%s commands (ttl is a duration like 30s, or never):\n", s.h.Kind())

	for _, name := range names {
		s.o.Println("  " + s.commands[name].usage)
	}

	s.o.Println("  help | quit")
}

// complete returns the command names starting with prefix.
func (s *replSession) complete(prefix string) []string {
	var out []string

	for name := range s.commands {
		if strings.HasPrefix(name, strings.ToLower(prefix)) {
			out = append(out, name)
		}
	}

	slices.Sort(out)

	return out
}

func (s *replSession) value(v []byte, ok bool) {
	if !ok {
		s.o.Println("(nil)")

		return
	}

	s.o.Printf("%q\n", v)
}

func (s *replSession) values(vs [][]byte) {
	if len(vs) == 0 {
		s.o.Println("(empty)")

		return
	}

	for i, v := range vs {
		s.o.Printf("%d) %q\n", i+1, v)
	}
}

func (s *replSession) bool(b bool) { s.o.Println(strconv.FormatBool(b)) }

func (s *replSession) int(n int) { s.o.Println(strconv.Itoa(n)) }

func (s *replSession) ttl(d time.Duration, ok bool) {
	if !ok {
		s.o.Println("(nil)")

		return
	}

	s.o.Println(formatTTL(d))
}

// optTTL parses args[i] as a ttl, defaulting to NoExpiry when absent.
func optTTL(args []string, i int) (time.Duration, error) {
	if len(args) <= i {
		return fastcollection.NoExpiry, nil
	}

	return parseTTL(args[i])
}

func optInt(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, nil
	}

	return parseIndex(args[i])
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}

	return n, nil
}

func commonReplCommands() map[string]replCommand {
	return map[string]replCommand{
		"len": {"len", 0, 0, func(s *replSession, _ []string) error {
			n, err := s.h.Len()
			if err == nil {
				s.int(n)
			}

			return err
		}},
		"clear": {"clear", 0, 0, func(s *replSession, _ []string) error {
			err := s.h.Clear()
			if err == nil {
				s.o.Println("OK")
			}

			return err
		}},
		"sweep": {"sweep", 0, 0, func(s *replSession, _ []string) error {
			n, err := s.h.RemoveExpired()
			if err == nil {
				s.o.Printf("removed %d\n", n)
			}

			return err
		}},
		"flush": {"flush", 0, 0, func(s *replSession, _ []string) error {
			err := s.h.Flush()
			if err == nil {
				s.o.Println("OK")
			}

			return err
		}},
		"stats": {"stats", 0, 0, func(s *replSession, _ []string) error {
			st, err := s.h.Stats()
			if err != nil {
				return err
			}

			s.o.Printf("len=%d total_size=%d used_bytes=%d free_bytes=%d highwater=%d\n",
				st.Len, st.TotalSize, st.UsedBytes, st.FreeBytes, st.Highwater)
			s.o.Printf("reads=%d writes=%d hits=%d misses=%d evictions=%d\n",
				st.Reads, st.Writes, st.Hits, st.Misses, st.Evictions)

			return nil
		}},
		"metrics": {"metrics", 0, 0, func(s *replSession, _ []string) error {
			writeMetrics(s.o, s.h.Kind().String(), s.h)

			return nil
		}},
	}
}

func listReplCommands() map[string]replCommand {
	ins := func(first bool) func(s *replSession, args []string) error {
		return func(s *replSession, args []string) error {
			ttl, err := optTTL(args, 1)
			if err != nil {
				return err
			}

			if first {
				err = s.h.list.AddFirst([]byte(args[0]), ttl)
			} else {
				err = s.h.list.Add([]byte(args[0]), ttl)
			}

			if err == nil {
				s.o.Println("OK")
			}

			return err
		}
	}

	end := func(get func(l *fastcollection.List) ([]byte, bool, error)) func(s *replSession, _ []string) error {
		return func(s *replSession, _ []string) error {
			v, ok, err := get(s.h.list)
			if err == nil {
				s.value(v, ok)
			}

			return err
		}
	}

	return map[string]replCommand{
		"add":      {"add <value> [ttl]", 1, 2, ins(false)},
		"addfirst": {"addfirst <value> [ttl]", 1, 2, ins(true)},
		"insert": {"insert <index> <value> [ttl]", 2, 3, func(s *replSession, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			ttl, err := optTTL(args, 2)
			if err != nil {
				return err
			}

			err = s.h.list.Insert(i, []byte(args[1]), ttl)
			if err == nil {
				s.o.Println("OK")
			}

			return err
		}},
		"get": {"get <index>", 1, 1, func(s *replSession, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			v, err := s.h.list.Get(i)
			if err == nil {
				s.value(v, true)
			}

			return err
		}},
		"set": {"set <index> <value> [ttl]", 2, 3, func(s *replSession, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			ttl, err := optTTL(args, 2)
			if err != nil {
				return err
			}

			err = s.h.list.Set(i, []byte(args[1]), ttl)
			if err == nil {
				s.o.Println("OK")
			}

			return err
		}},
		"remove": {"remove <index>", 1, 1, func(s *replSession, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			v, err := s.h.list.Remove(i)
			if err == nil {
				s.value(v, true)
			}

			return err
		}},
		"first":       {"first", 0, 0, end((*fastcollection.List).GetFirst)},
		"last":        {"last", 0, 0, end((*fastcollection.List).GetLast)},
		"removefirst": {"removefirst", 0, 0, end((*fastcollection.List).RemoveFirst)},
		"removelast":  {"removelast", 0, 0, end((*fastcollection.List).RemoveLast)},
		"indexof": {"indexof <value>", 1, 1, func(s *replSession, args []string) error {
			i, err := s.h.list.IndexOf([]byte(args[0]))
			if err == nil {
				s.int(i)
			}

			return err
		}},
		"lastindexof": {"lastindexof <value>", 1, 1, func(s *replSession, args []string) error {
			i, err := s.h.list.LastIndexOf([]byte(args[0]))
			if err == nil {
				s.int(i)
			}

			return err
		}},
		"removevalue": {"removevalue <value>", 1, 1, func(s *replSession, args []string) error {
			ok, err := s.h.list.RemoveValue([]byte(args[0]))
			if err == nil {
				s.bool(ok)
			}

			return err
		}},
		"contains": {"contains <value>", 1, 1, func(s *replSession, args []string) error {
			ok, err := s.h.list.Contains([]byte(args[0]))
			if err == nil {
				s.bool(ok)
			}

			return err
		}},
		"ttl": {"ttl <index> [new ttl]", 1, 2, func(s *replSession, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			if len(args) == 2 {
				ttl, err := parseTTL(args[1])
				if err != nil {
					return err
				}

				err = s.h.list.SetTTL(i, ttl)
				if err == nil {
					s.o.Println("OK")
				}

				return err
			}

			d, err := s.h.list.GetTTL(i)
			if err == nil {
				s.ttl(d, true)
			}

			return err
		}},
		"values": {"values", 0, 0, func(s *replSession, _ []string) error {
			vs, err := s.h.list.Values()
			if err == nil {
				s.values(vs)
			}

			return err
		}},
	}
}
