// Package whatsapp adapts the whatsmeow client library to the channel
// capability interface. All library callbacks are converted into the typed
// event stream consumed by the session manager; nothing in here mutates
// session state directly.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/channel"
)

// Adapter implements channel.Client on top of whatsmeow. The device store
// lives in the same Postgres instance as the rest of the application.
type Adapter struct {
	container *sqlstore.Container
	log       *logrus.Entry
	events    chan channel.Event

	mu       sync.Mutex
	client   *whatsmeow.Client
	cancelQR context.CancelFunc
}

func NewAdapter(databaseURL string, log *logrus.Entry) (*Adapter, error) {
	container, err := sqlstore.New("postgres", databaseURL, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsapp device store: %w", err)
	}
	return &Adapter{
		container: container,
		log:       log,
		events:    make(chan channel.Event, 16),
	}, nil
}

func (a *Adapter) Events() <-chan channel.Event {
	return a.events
}

// Connect opens the socket. An unpaired device enters the QR pairing flow
// and pairing codes are emitted as EventPairingCode; an already-paired
// device resumes and goes straight to EventReady.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		a.teardownLocked()
	}

	device, err := a.container.GetFirstDevice()
	if err != nil {
		return fmt.Errorf("failed to load whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.AddEventHandler(a.handleLibraryEvent)

	if client.Store.ID == nil {
		// Fresh pairing: the QR channel must be requested before Connect.
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		a.cancelQR = cancel
		go a.pumpQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		a.teardownLocked()
		return fmt.Errorf("failed to connect whatsapp client: %w", err)
	}
	a.client = client
	return nil
}

// Disconnect tears the connection down. A paired and connected client is
// logged out so the companion registration on the phone is removed; an
// unpaired one is simply disconnected. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	if a.client.Store.ID != nil && a.client.IsConnected() {
		if err := a.client.Logout(); err != nil {
			a.log.WithError(err).Warn("Logout failed, falling back to plain disconnect")
			a.client.Disconnect()
		}
	} else {
		a.client.Disconnect()
	}
	a.teardownLocked()
	return nil
}

func (a *Adapter) teardownLocked() {
	if a.cancelQR != nil {
		a.cancelQR()
		a.cancelQR = nil
	}
	a.client = nil
}

func (a *Adapter) IsReachable(ctx context.Context, contact string) (bool, error) {
	client := a.current()
	if client == nil {
		return false, fmt.Errorf("whatsapp client is not connected")
	}
	resp, err := client.IsOnWhatsApp([]string{"+" + digitsOf(contact)})
	if err != nil {
		return false, fmt.Errorf("whatsapp registration lookup failed: %w", err)
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

func (a *Adapter) Send(ctx context.Context, contact, text string) (string, error) {
	client := a.current()
	if client == nil {
		return "", fmt.Errorf("whatsapp client is not connected")
	}
	jid := types.NewJID(digitsOf(contact), types.DefaultUserServer)
	resp, err := client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp send failed: %w", err)
	}
	return string(resp.ID), nil
}

func (a *Adapter) current() *whatsmeow.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *Adapter) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			a.emit(channel.Event{Kind: channel.EventPairingCode, Code: item.Code})
		case "success":
			// PairSuccess from the main event handler covers this.
		case "timeout":
			a.emit(channel.Event{Kind: channel.EventDisconnected, Reason: "pairing window expired"})
		default:
			if item.Error != nil {
				a.emit(channel.Event{Kind: channel.EventAuthFailure, Reason: item.Error.Error()})
			}
		}
	}
}

func (a *Adapter) handleLibraryEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		a.emit(channel.Event{Kind: channel.EventAuthenticated})
	case *events.Connected:
		identifier := ""
		if client := a.current(); client != nil && client.Store.ID != nil {
			identifier = client.Store.ID.User
		}
		a.emit(channel.Event{Kind: channel.EventReady, Identifier: identifier})
	case *events.LoggedOut:
		a.emit(channel.Event{Kind: channel.EventAuthFailure, Reason: fmt.Sprintf("logged out by remote: %v", v.Reason)})
	case *events.StreamReplaced:
		a.emit(channel.Event{Kind: channel.EventDisconnected, Reason: "stream replaced by another client"})
	case *events.Disconnected:
		a.emit(channel.Event{Kind: channel.EventDisconnected, Reason: "connection closed"})
	}
}

// emit never blocks: if the consumer is gone or slow the event is dropped
// and logged, mirroring the at-most-once delivery of the status feed.
func (a *Adapter) emit(ev channel.Event) {
	select {
	case a.events <- ev:
	default:
		a.log.WithField("event", string(ev.Kind)).Warn("Dropping channel event: consumer not keeping up")
	}
}

func digitsOf(contact string) string {
	var b strings.Builder
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
