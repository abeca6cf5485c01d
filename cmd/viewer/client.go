package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"chunkmap.dev/internal/observerproto"
)

// viewer mirrors the server's resident set for one session and checks every
// chunk it receives against the announced digest.
type viewer struct {
	conn *websocket.Conn
	log  *log.Logger

	welcome  observerproto.WelcomeMsg
	resident map[observerproto.ChunkRef][]byte
	verified int
}

func dialViewer(url string, sub observerproto.SubscribeMsg, logger *log.Logger) (*viewer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	v := &viewer{conn: conn, log: logger, resident: map[observerproto.ChunkRef][]byte{}}

	sub.Type = observerproto.TypeSubscribe
	sub.ProtocolVersion = observerproto.Version
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send SUBSCRIBE: %w", err)
	}
	if err := v.expect(observerproto.TypeWelcome, &v.welcome); err != nil {
		conn.Close()
		return nil, err
	}
	v.printf("WELCOME session=%s seed=%q seed_num=%d radius=%d encoding=%s",
		v.welcome.SessionID, v.welcome.WorldParams.Seed, v.welcome.WorldParams.SeedNum, v.welcome.ViewRadius, v.welcome.Encoding)
	return v, nil
}

func (v *viewer) Close() error { return v.conn.Close() }

// expect reads the next message and decodes it into out. An ERROR message is
// returned as an error.
func (v *viewer) expect(typ string, out any) error {
	_ = v.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, b, err := v.conn.ReadMessage()
	if err != nil {
		return err
	}
	base, err := observerproto.DecodeBase(b)
	if err != nil {
		return err
	}
	if base.Type == observerproto.TypeError {
		var e observerproto.ErrorMsg
		_ = json.Unmarshal(b, &e)
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	if base.Type != typ {
		return fmt.Errorf("expected %s, got %s", typ, base.Type)
	}
	return json.Unmarshal(b, out)
}

// readUpdate consumes one VIEW and the UNLOAD and CHUNK messages it lists.
func (v *viewer) readUpdate() (observerproto.ViewMsg, error) {
	var view observerproto.ViewMsg
	if err := v.expect(observerproto.TypeView, &view); err != nil {
		return view, err
	}
	for range view.Destroyed {
		var u observerproto.UnloadMsg
		if err := v.expect(observerproto.TypeUnload, &u); err != nil {
			return view, err
		}
		delete(v.resident, observerproto.ChunkRef{CX: u.CX, CY: u.CY})
	}
	for range view.Created {
		var c observerproto.ChunkMsg
		if err := v.expect(observerproto.TypeChunk, &c); err != nil {
			return view, err
		}
		packed, err := observerproto.DecodeTiles(c.Encoding, c.Data)
		if err != nil {
			return view, fmt.Errorf("chunk (%d,%d): %w", c.CX, c.CY, err)
		}
		sum := sha256.Sum256(packed)
		if got := hex.EncodeToString(sum[:]); got != c.Digest {
			return view, fmt.Errorf("chunk (%d,%d): digest mismatch got=%s want=%s", c.CX, c.CY, got, c.Digest)
		}
		v.verified++
		v.resident[observerproto.ChunkRef{CX: c.CX, CY: c.CY}] = packed
	}
	v.printf("VIEW seq=%d camera=(%.0f,%.0f) center=(%d,%d) +%d -%d resident=%d",
		view.Seq, view.Camera[0], view.Camera[1], view.Center.CX, view.Center.CY, len(view.Created), len(view.Destroyed), len(v.resident))
	return view, nil
}

func (v *viewer) drag(dx, dy float64) (observerproto.ViewMsg, error) {
	msg := observerproto.DragMsg{Type: observerproto.TypeDrag, ProtocolVersion: observerproto.Version, DX: dx, DY: dy}
	if err := v.conn.WriteJSON(msg); err != nil {
		return observerproto.ViewMsg{}, err
	}
	return v.readUpdate()
}

func (v *viewer) pick(x, y float64) (observerproto.PickResultMsg, error) {
	var res observerproto.PickResultMsg
	msg := observerproto.PickMsg{Type: observerproto.TypePick, ProtocolVersion: observerproto.Version, X: x, Y: y}
	if err := v.conn.WriteJSON(msg); err != nil {
		return res, err
	}
	err := v.expect(observerproto.TypePickResult, &res)
	return res, err
}

func (v *viewer) printf(format string, args ...any) {
	if v.log != nil {
		v.log.Printf(format, args...)
	}
}
