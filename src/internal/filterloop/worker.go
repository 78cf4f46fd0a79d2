package filterloop

import (
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/packet"
)

func (s *Service) run(gen uint64, tunnel Tunnel, resolver Resolver, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, s.bufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := tunnel.Read(buf)
		if err != nil {
			select {
			case <-stop:
				log.Debugf("Filter loop exited")
			default:
				log.Errorf("Tunnel read failed, stopping filter service: %v", err)
				go s.stopGeneration(gen)
			}
			return
		}
		if n <= 0 {
			select {
			case <-stop:
				return
			case <-time.After(s.idleBackoff):
			}
			continue
		}

		s.handle(buf[:n], tunnel, resolver)
	}
}

// handle answers one packet. Malformed packets and panics produce no reply.
func (s *Service) handle(raw []byte, tunnel Tunnel, resolver Resolver) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic while handling packet: %v", r)
			s.countDropped()
		}
	}()

	datagram, ok := packet.Decode(raw, len(raw))
	if !ok {
		s.countDropped()
		return
	}

	domain := packet.ParseDomainName(datagram.Payload)
	decision := s.engine.EvaluateDomain(domain)

	var reply []byte
	outcome := OutcomeAllowed
	if decision.Blocked {
		outcome = OutcomeBlocked
		reply = packet.BuildBlockedResponse(datagram.Payload)
	} else {
		response, err := resolver.Forward(datagram.Payload)
		if err != nil {
			log.Debugf("Answering %q as blocked: %v", domain, err)
			outcome = OutcomeUpstreamFailed
			reply = packet.BuildBlockedResponse(datagram.Payload)
		} else {
			reply = response
		}
	}

	if _, err := tunnel.Write(datagram.BuildReply(reply)); err != nil {
		log.Debugf("Failed to write reply for %q: %v", domain, err)
	}

	entry := QueryLogEntry{
		Domain:      domain,
		Blocked:     outcome != OutcomeAllowed,
		Outcome:     outcome,
		TimestampMs: s.now().UnixMilli(),
	}
	if decision.Blocked {
		entry.MatchedRule = decision.MatchedRule
	}
	s.record(entry)

	log.Debugf("[%04x] %s -> %s", packet.QuestionID(datagram.Payload), domain, outcome)
}

func (s *Service) record(entry QueryLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Processed++
	switch entry.Outcome {
	case OutcomeBlocked:
		s.stats.Blocked++
	case OutcomeUpstreamFailed:
		s.stats.UpstreamFailures++
	default:
		s.stats.Allowed++
	}
	s.recent.push(entry)
}

func (s *Service) countDropped() {
	s.mu.Lock()
	s.stats.Dropped++
	s.mu.Unlock()
}
