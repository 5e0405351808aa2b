package cli

import (
	"time"
)

// Adapters from collection calls to repl output.

func lookup(call func(s *replSession, args []string) ([]byte, bool, error)) func(*replSession, []string) error {
	return func(s *replSession, args []string) error {
		v, ok, err := call(s, args)
		if err == nil {
			s.value(v, ok)
		}

		return err
	}
}

func check(call func(s *replSession, args []string) (bool, error)) func(*replSession, []string) error {
	return func(s *replSession, args []string) error {
		ok, err := call(s, args)
		if err == nil {
			s.bool(ok)
		}

		return err
	}
}

func count(call func(s *replSession, args []string) (int, error)) func(*replSession, []string) error {
	return func(s *replSession, args []string) error {
		n, err := call(s, args)
		if err == nil {
			s.int(n)
		}

		return err
	}
}

func list(call func(s *replSession, args []string) ([][]byte, error)) func(*replSession, []string) error {
	return func(s *replSession, args []string) error {
		vs, err := call(s, args)
		if err == nil {
			s.values(vs)
		}

		return err
	}
}

func done(call func(s *replSession, args []string) error) func(*replSession, []string) error {
	return func(s *replSession, args []string) error {
		err := call(s, args)
		if err == nil {
			s.o.Println("OK")
		}

		return err
	}
}

// withTTL parses the optional ttl at args[i] before calling fn.
func withTTL(i int, fn func(s *replSession, args []string, ttl time.Duration) error) func(*replSession, []string) error {
	return func(s *replSession, args []string) error {
		ttl, err := optTTL(args, i)
		if err != nil {
			return err
		}

		return fn(s, args, ttl)
	}
}

func queueReplCommands() map[string]replCommand {
	offer := func(first bool) func(*replSession, []string) error {
		return done(withTTL(1, func(s *replSession, args []string, ttl time.Duration) error {
			if first {
				return s.h.queue.OfferFirst([]byte(args[0]), ttl)
			}

			return s.h.queue.Offer([]byte(args[0]), ttl)
		}))
	}

	return map[string]replCommand{
		"offer":      {"offer <value> [ttl]", 1, 2, offer(false)},
		"offerfirst": {"offerfirst <value> [ttl]", 1, 2, offer(true)},
		"poll": {"poll", 0, 0, lookup(func(s *replSession, _ []string) ([]byte, bool, error) {
			return s.h.queue.Poll()
		})},
		"polllast": {"polllast", 0, 0, lookup(func(s *replSession, _ []string) ([]byte, bool, error) {
			return s.h.queue.PollLast()
		})},
		"peek": {"peek", 0, 0, lookup(func(s *replSession, _ []string) ([]byte, bool, error) {
			return s.h.queue.Peek()
		})},
		"peeklast": {"peeklast", 0, 0, lookup(func(s *replSession, _ []string) ([]byte, bool, error) {
			return s.h.queue.PeekLast()
		})},
		"ttl": {"ttl", 0, 0, func(s *replSession, _ []string) error {
			d, ok, err := s.h.queue.PeekTTL()
			if err == nil {
				s.ttl(d, ok)
			}

			return err
		}},
		"drain": {"drain [limit]", 0, 1, list(func(s *replSession, args []string) ([][]byte, error) {
			n, err := optInt(args, 0)
			if err != nil {
				return nil, err
			}

			return s.h.queue.Drain(n)
		})},
		"contains": {"contains <value>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.queue.Contains([]byte(args[0]))
		})},
		"removevalue": {"removevalue <value>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.queue.RemoveValue([]byte(args[0]))
		})},
		"values": {"values", 0, 0, list(func(s *replSession, _ []string) ([][]byte, error) {
			return s.h.queue.Values()
		})},
	}
}

func stackReplCommands() map[string]replCommand {
	return map[string]replCommand{
		"push": {"push <value> [ttl]", 1, 2, done(withTTL(1, func(s *replSession, args []string, ttl time.Duration) error {
			return s.h.stack.Push([]byte(args[0]), ttl)
		}))},
		"pop": {"pop", 0, 0, lookup(func(s *replSession, _ []string) ([]byte, bool, error) {
			return s.h.stack.Pop()
		})},
		"popall": {"popall [limit]", 0, 1, list(func(s *replSession, args []string) ([][]byte, error) {
			n, err := optInt(args, 0)
			if err != nil {
				return nil, err
			}

			return s.h.stack.PopAll(n)
		})},
		"peek": {"peek", 0, 0, lookup(func(s *replSession, _ []string) ([]byte, bool, error) {
			return s.h.stack.Peek()
		})},
		"ttl": {"ttl", 0, 0, func(s *replSession, _ []string) error {
			d, ok, err := s.h.stack.PeekTTL()
			if err == nil {
				s.ttl(d, ok)
			}

			return err
		}},
		"search": {"search <value>", 1, 1, count(func(s *replSession, args []string) (int, error) {
			return s.h.stack.Search([]byte(args[0]))
		})},
		"contains": {"contains <value>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.stack.Contains([]byte(args[0]))
		})},
		"removevalue": {"removevalue <value>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.stack.RemoveValue([]byte(args[0]))
		})},
		"values": {"values", 0, 0, list(func(s *replSession, _ []string) ([][]byte, error) {
			return s.h.stack.Values()
		})},
	}
}

func setReplCommands() map[string]replCommand {
	return map[string]replCommand{
		"add": {"add <elem> [ttl]", 1, 2, check(func(s *replSession, args []string) (bool, error) {
			ttl, err := optTTL(args, 1)
			if err != nil {
				return false, err
			}

			return s.h.set.Add([]byte(args[0]), ttl)
		})},
		"remove": {"remove <elem>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.set.Remove([]byte(args[0]))
		})},
		"contains": {"contains <elem>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.set.Contains([]byte(args[0]))
		})},
		"ttl": {"ttl <elem> [new ttl]", 1, 2, func(s *replSession, args []string) error {
			if len(args) == 2 {
				ttl, err := parseTTL(args[1])
				if err != nil {
					return err
				}

				ok, err := s.h.set.SetTTL([]byte(args[0]), ttl)
				if err == nil {
					s.bool(ok)
				}

				return err
			}

			d, ok, err := s.h.set.GetTTL([]byte(args[0]))
			if err == nil {
				s.ttl(d, ok)
			}

			return err
		}},
		"values": {"values", 0, 0, list(func(s *replSession, _ []string) ([][]byte, error) {
			return s.h.set.Values()
		})},
	}
}

func mapReplCommands() map[string]replCommand {
	return map[string]replCommand{
		"put": {"put <key> <value> [ttl]", 2, 3, done(withTTL(2, func(s *replSession, args []string, ttl time.Duration) error {
			return s.h.m.Put([]byte(args[0]), []byte(args[1]), ttl)
		}))},
		"putifabsent": {"putifabsent <key> <value> [ttl]", 2, 3, check(func(s *replSession, args []string) (bool, error) {
			ttl, err := optTTL(args, 2)
			if err != nil {
				return false, err
			}

			return s.h.m.PutIfAbsent([]byte(args[0]), []byte(args[1]), ttl)
		})},
		"get": {"get <key>", 1, 1, lookup(func(s *replSession, args []string) ([]byte, bool, error) {
			return s.h.m.Get([]byte(args[0]))
		})},
		"remove": {"remove <key>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.m.Remove([]byte(args[0]))
		})},
		"containskey": {"containskey <key>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.m.ContainsKey([]byte(args[0]))
		})},
		"containsvalue": {"containsvalue <value>", 1, 1, check(func(s *replSession, args []string) (bool, error) {
			return s.h.m.ContainsValue([]byte(args[0]))
		})},
		"ttl": {"ttl <key> [new ttl]", 1, 2, func(s *replSession, args []string) error {
			if len(args) == 2 {
				ttl, err := parseTTL(args[1])
				if err != nil {
					return err
				}

				ok, err := s.h.m.SetTTL([]byte(args[0]), ttl)
				if err == nil {
					s.bool(ok)
				}

				return err
			}

			d, ok, err := s.h.m.GetTTL([]byte(args[0]))
			if err == nil {
				s.ttl(d, ok)
			}

			return err
		}},
		"keys": {"keys", 0, 0, list(func(s *replSession, _ []string) ([][]byte, error) {
			return s.h.m.Keys()
		})},
		"entries": {"entries", 0, 0, func(s *replSession, _ []string) error {
			entries, err := s.h.m.Entries()
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				s.o.Println("(empty)")
			}

			for _, e := range entries {
				s.o.Printf("%q => %q\n", e.Key, e.Value)
			}

			return nil
		}},
	}
}
