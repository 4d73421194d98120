package netproactor

import (
	"net"
	"strconv"
	"sync"

	"github.com/sagernet/asio"
	"github.com/sagernet/sing/common/bufio"
)

// writeRequest is one queued Send, matching smux's writeRequest.
type writeRequest struct {
	data []byte
	dest *asio.Endpoint
	done func(asio.SendResult)
}

// readRequest is one queued Receive.
type readRequest struct {
	opts asio.ReceiveOptions
	done func(asio.ReceiveResult)
}

// socketConn owns the real OS socket behind one handle and runs the
// teacher's one-goroutine-per-direction split: readLoop only ever reads,
// writeLoop only ever writes, exactly as smux's recvLoop/sendLoop never
// share a goroutine.
type socketConn struct {
	transport asio.Transport
	conn      net.Conn       // set for stream sockets
	packet    net.PacketConn // set for datagram sockets

	writes    chan writeRequest
	die       chan struct{}
	closeOnce sync.Once
	startOnce sync.Once

	mu       sync.Mutex
	recvBuf  []byte // stream byte-stream backlog, mirrors simnet's session.recvBuf
	pendingR []readRequest
}

func newSocketConn(transport asio.Transport, conn net.Conn, packet net.PacketConn) *socketConn {
	return &socketConn{
		transport: transport,
		conn:      conn,
		packet:    packet,
		writes:    make(chan writeRequest, 64),
		die:       make(chan struct{}),
	}
}

// start launches the read and write goroutines exactly once, regardless of
// how many times it is called: a listener's accept loop starts a freshly
// accepted connection's loops immediately so no data is dropped while the
// engine builds its StreamSocket, and that same StreamSocket's own
// AttachSocket call reaches here a second time when it registers for
// completions.
func (sc *socketConn) start(p *Proactor, h asio.Handle) {
	sc.startOnce.Do(func() {
		go sc.writeLoop()
		go sc.readLoop(p, h)
	})
}

func (sc *socketConn) close() {
	sc.closeOnce.Do(func() { close(sc.die) })
	if sc.conn != nil {
		sc.conn.Close()
	}
	if sc.packet != nil {
		sc.packet.Close()
	}
}

func (sc *socketConn) cancelPending() {
	sc.mu.Lock()
	pending := sc.pendingR
	sc.pendingR = nil
	sc.mu.Unlock()
	for _, r := range pending {
		r.done(asio.ReceiveResult{Err: asio.NewError(asio.KindCancelled, nil)})
	}
}

func (sc *socketConn) submitWrite(data []byte, dest *asio.Endpoint, done func(asio.SendResult)) error {
	select {
	case sc.writes <- writeRequest{data: data, dest: dest, done: done}:
		return nil
	case <-sc.die:
		return asio.NewError(asio.KindInvalid, nil)
	}
}

func (sc *socketConn) submitRead(opts asio.ReceiveOptions, done func(asio.ReceiveResult)) error {
	sc.mu.Lock()
	sc.pendingR = append(sc.pendingR, readRequest{opts: opts, done: done})
	sc.mu.Unlock()
	return nil
}

// writeLoop drains queued writes, batching whatever has accumulated since
// the last drain into a single vectorised write when the underlying
// net.Conn supports gather I/O — the same optimisation smux's sendLoop
// applies to its (header, payload) pair, generalized here to however many
// payloads queued up between drains.
func (sc *socketConn) writeLoop() {
	if sc.transport == asio.TransportDatagram {
		sc.writeLoopDatagram()
		return
	}

	bw, vectorised := bufio.CreateVectorisedWriter(sc.conn)
	flush := func(batch []writeRequest) {
		if vectorised && len(batch) > 1 {
			vec := make([][]byte, len(batch))
			total := 0
			for i, r := range batch {
				vec[i] = r.data
				total += len(r.data)
			}
			n, err := bufio.WriteVectorised(bw, vec)
			reportBatch(batch, n, err)
			return
		}
		for _, r := range batch {
			n, err := sc.conn.Write(r.data)
			if r.done != nil {
				r.done(asio.SendResult{Bytes: n, Err: wrapTransportErr(err)})
			}
		}
	}
	for {
		select {
		case <-sc.die:
			return
		case first := <-sc.writes:
			batch := []writeRequest{first}
		drain:
			for {
				select {
				case next := <-sc.writes:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			flush(batch)
		}
	}
}

// reportBatch distributes one combined write's outcome across the batch in
// order, crediting each request up to its own length until n is used up,
// matching smux's "single result, many frames" accounting when writes are
// coalesced.
func reportBatch(batch []writeRequest, n int, err error) {
	if err != nil {
		for _, r := range batch {
			if r.done != nil {
				r.done(asio.SendResult{Err: wrapTransportErr(err)})
			}
		}
		return
	}
	remaining := n
	for _, r := range batch {
		take := len(r.data)
		if take > remaining {
			take = remaining
		}
		remaining -= take
		if r.done != nil {
			r.done(asio.SendResult{Bytes: take})
		}
	}
}

func (sc *socketConn) writeLoopDatagram() {
	for {
		select {
		case <-sc.die:
			return
		case r := <-sc.writes:
			addr, err := resolveUDP(r.dest)
			if err != nil {
				if r.done != nil {
					r.done(asio.SendResult{Err: asio.NewError(asio.KindInvalid, err)})
				}
				continue
			}
			n, err := sc.packet.WriteTo(r.data, addr)
			if r.done != nil {
				r.done(asio.SendResult{Bytes: n, Err: wrapTransportErr(err)})
			}
		}
	}
}

func resolveUDP(dest *asio.Endpoint) (net.Addr, error) {
	if dest == nil {
		return nil, asio.NewError(asio.KindInvalid, nil)
	}
	return net.ResolveUDPAddr("udp", dest.String())
}

// readLoop continuously reads from the OS socket and matches arrivals
// against queued Receive requests, buffering surplus stream bytes the way
// simnet's session.recvBuf does for byte-stream framing.
func (sc *socketConn) readLoop(p *Proactor, h asio.Handle) {
	buf := make([]byte, 1<<16)
	for {
		select {
		case <-sc.die:
			return
		default:
		}
		if sc.transport == asio.TransportDatagram {
			n, addr, err := sc.packet.ReadFrom(buf)
			if err != nil {
				sc.deliverReceive(asio.ReceiveResult{Err: wrapTransportErr(err)})
				return
			}
			payload := append([]byte(nil), buf[:n]...)
			sc.deliverReceive(asio.ReceiveResult{Source: udpEndpoint(addr), Data: payload})
			continue
		}
		n, err := sc.conn.Read(buf)
		if n > 0 {
			sc.mu.Lock()
			sc.recvBuf = append(sc.recvBuf, buf[:n]...)
			sc.mu.Unlock()
			sc.drainStreamLocked()
		}
		if err != nil {
			sc.deliverReceive(asio.ReceiveResult{Err: wrapTransportErr(err)})
			return
		}
	}
}

func (sc *socketConn) deliverReceive(result asio.ReceiveResult) {
	sc.mu.Lock()
	if len(sc.pendingR) == 0 {
		sc.mu.Unlock()
		return
	}
	r := sc.pendingR[0]
	sc.pendingR = sc.pendingR[1:]
	sc.mu.Unlock()
	r.done(result)
}

// drainStreamLocked matches buffered bytes against the oldest pending
// Receive's Min/MaxBytes framing, delivering as many satisfied requests as
// the backlog allows.
func (sc *socketConn) drainStreamLocked() {
	for {
		sc.mu.Lock()
		if len(sc.pendingR) == 0 {
			sc.mu.Unlock()
			return
		}
		req := sc.pendingR[0]
		min := req.opts.MinBytes
		if min <= 0 {
			min = 1
		}
		if len(sc.recvBuf) < min {
			sc.mu.Unlock()
			return
		}
		max := req.opts.MaxBytes
		if max <= 0 || max > len(sc.recvBuf) {
			max = len(sc.recvBuf)
		}
		data := append([]byte(nil), sc.recvBuf[:max]...)
		sc.recvBuf = sc.recvBuf[max:]
		sc.pendingR = sc.pendingR[1:]
		sc.mu.Unlock()
		req.done(asio.ReceiveResult{Data: data})
	}
}

func udpEndpoint(addr net.Addr) asio.Endpoint {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return asio.Endpoint{}
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	kind := asio.EndpointIPv4
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		kind = asio.EndpointIPv6
	}
	return asio.Endpoint{Kind: kind, Host: host, Port: uint16(port)}
}

func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	return asio.NewError(asio.KindTransport, err)
}
