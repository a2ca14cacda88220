package net

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	storeandforward "github.com/cpacia/go-store-and-forward"
	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/net/pb"
	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	crypto "github.com/libp2p/go-libp2p-core/crypto"
	inet "github.com/libp2p/go-libp2p-core/network"
	peer "github.com/libp2p/go-libp2p-core/peer"
)

const (
	// RetryInterval is the interval at which retry sending messages
	// that haven't yet been ACKed.
	RetryInterval = time.Minute * 1

	// RequeryInterval is the interval at which re-query the store
	// and forward servers. We don't want to poll to frequently as
	// we are also subscribed to push messages from them.
	RequeryInterval = time.Minute * 30

	// SendTimeout is how long to wait while trying to send an online
	// message before giving up and sending it to the store and forward
	// servers.
	SendTimeout = time.Second * 5
)

// ErrMessageTooLarge is returned when a serialized message exceeds the
// stream limit.
var ErrMessageTooLarge = errors.New("message exceeds max message size")

// DeliveryResult reports how a send attempt ended.
type DeliveryResult int

const (
	// DeliveryFailed means neither the peer nor any mailbox took the message.
	DeliveryFailed DeliveryResult = iota
	// DeliveredDirect means the peer received the message over a stream.
	DeliveredDirect
	// DeliveredToMailbox means at least one store and forward server
	// holds the message for the peer.
	DeliveredToMailbox
)

func (r DeliveryResult) String() string {
	switch r {
	case DeliveredDirect:
		return "DIRECT"
	case DeliveredToMailbox:
		return "MAILBOX"
	}
	return "FAILED"
}

// ResultFunc receives the outcome of a send attempt. It is called from
// the sending goroutine.
type ResultFunc func(result DeliveryResult, err error)

// MessengerConfig holds the dependencies of a Messenger.
type MessengerConfig struct {
	Service *NetworkService
	Privkey crypto.PrivKey
	DB      database.Database

	// SNFClient is optional. Without it messages to offline peers are
	// only retried directly.
	SNFClient *storeandforward.Client

	// SNFServers are our own mailbox servers. They are advertised to
	// peers and used for peers whose servers we do not know.
	SNFServers []peer.ID
}

// Messenger manages the reliable sending of outgoing messages.
// New messages are saved to the database and continually retried
// until the recipient acknowledges it.
type Messenger struct {
	ns         *NetworkService
	db         database.Database
	sk         crypto.PrivKey
	snfClient  *storeandforward.Client
	snfServers []peer.ID
	done       chan struct{}
	mtx        sync.Mutex
	wg         sync.WaitGroup
}

// NewMessenger returns a Messenger. Call Start to begin the retry loop.
func NewMessenger(cfg *MessengerConfig) (*Messenger, error) {
	if cfg.Service == nil || cfg.DB == nil || cfg.Privkey == nil {
		return nil, errors.New("messenger config missing required fields")
	}
	m := &Messenger{
		ns:         cfg.Service,
		db:         cfg.DB,
		sk:         cfg.Privkey,
		snfClient:  cfg.SNFClient,
		snfServers: cfg.SNFServers,
		done:       make(chan struct{}),
		mtx:        sync.Mutex{},
		wg:         sync.WaitGroup{},
	}
	return m, nil
}

// Stop shuts down the Messenger and blocks until all message
// attempts are finished.
func (m *Messenger) Stop() {
	close(m.done)
	m.wg.Wait()
}

// MailboxServers returns our own store and forward servers.
func (m *Messenger) MailboxServers() []string {
	ret := make([]string, 0, len(m.snfServers))
	for _, s := range m.snfServers {
		ret = append(ret, s.Pretty())
	}
	return ret
}

// SendDirect makes a single attempt to deliver the message to an online
// peer. Nothing is persisted.
func (m *Messenger) SendDirect(ctx context.Context, to peer.ID, message *pb.Message) error {
	ser, err := proto.Marshal(message)
	if err != nil {
		return err
	}
	if len(ser) > inet.MessageSizeMax {
		return ErrMessageTooLarge
	}
	return m.ns.SendMessage(ctx, to, message)
}

// ReliablySendMessage persists the message to the database before sending, then continually retries
// the send until it is acknowledged. The send itself happens after the
// transaction commits. onResult may be nil.
func (m *Messenger) ReliablySendMessage(tx database.Tx, to peer.ID, message *pb.Message, onResult ResultFunc) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	ser, err := proto.Marshal(message)
	if err != nil {
		return err
	}

	if len(ser) > inet.MessageSizeMax {
		return ErrMessageTooLarge
	}

	// Before we do anything save the message to the database. This way
	// we can retry sending the message until we know for sure that it
	// has been delivered.
	err = tx.Save(&models.OutgoingMessage{
		ID:                message.MessageID,
		Recipient:         to.Pretty(),
		SerializedMessage: ser,
		MessageType:       message.MessageType.String(),
		Timestamp:         time.Now(),
		LastAttempt:       time.Now(),
	})
	if err != nil {
		return err
	}

	// Send the message on commit. Hooks run with the db lock held so
	// the send must not happen inline.
	tx.RegisterCommitHook(func() {
		m.wg.Add(1)
		go m.trySendMessage(to, message, true, onResult)
	})

	return nil
}

// ProcessACK deletes the message from the database after it has been
// ACKed so we no longer try sending.
func (m *Messenger) ProcessACK(tx database.Tx, ack *pb.AckMessage) error {
	log.Debugf("Received ACK for message ID %s", ack.AckedMessageID)
	return m.DeleteMessage(tx, ack.AckedMessageID)
}

// DeleteMessage stops any further retries of the message.
func (m *Messenger) DeleteMessage(tx database.Tx, messageID string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return tx.Delete("id", messageID, nil, &models.OutgoingMessage{})
}

// RetryMessage immediately resends a persisted message regardless of
// the backoff schedule. It returns false if the message is not stored.
func (m *Messenger) RetryMessage(messageID string, onResult ResultFunc) (bool, error) {
	var record models.OutgoingMessage
	err := m.db.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", messageID).First(&record).Error
	})
	if gorm.IsRecordNotFoundError(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	pmes, err := record.Message()
	if err != nil {
		return false, err
	}
	pid, err := peer.Decode(record.Recipient)
	if err != nil {
		return false, err
	}
	err = m.db.Update(func(tx database.Tx) error {
		return tx.Update("last_attempt", time.Now(), map[string]interface{}{"id = ?": messageID}, &models.OutgoingMessage{})
	})
	if err != nil {
		return false, err
	}
	m.wg.Add(1)
	go m.trySendMessage(pid, pmes, true, onResult)
	return true, nil
}

// SendACK sends an ACK for the message with the given ID to the provided
// peer. The ACK send is only attempted just once and unlike other messages
// is not persisted to the database. It is expected that the message handler
// will send an ACK for every duplicate message it receives. This implies
// that the sender will continue sending messages until it receives an
// ACK and the recipient will continue ACKing them until it stops receiving
// duplicate messages.
func (m *Messenger) SendACK(messageID string, to peer.ID) {
	log.Debugf("Sending ACK for message ID: %s", messageID)

	ack := &pb.AckMessage{
		AckedMessageID: messageID,
	}

	payload, err := proto.Marshal(ack)
	if err != nil {
		log.Errorf("Error marshalling ack message: %s", err)
		return
	}

	msg := &pb.Message{
		MessageID:   uuid.New().String(),
		MessageType: pb.Message_ACK,
		Payload:     payload,
	}
	m.wg.Add(1)
	go m.trySendMessage(to, msg, false, nil)
}

// UpdatePeerServers records the mailbox servers a peer advertised.
func (m *Messenger) UpdatePeerServers(peerID peer.ID, servers []string) error {
	if len(servers) == 0 {
		return nil
	}
	record := &models.StoreAndForwardServers{PeerID: peerID.Pretty()}
	if err := record.PutServers(servers); err != nil {
		return err
	}
	return m.db.Update(func(tx database.Tx) error {
		return tx.Save(record)
	})
}

// Start will start a recurring process which will attempt
// to resend any messages than have not yet been ACKed. It also
// processes messages pushed to us by our mailbox servers. Start
// blocks until Stop is called.
func (m *Messenger) Start() {
	// Run once at startup
	m.wg.Add(1)
	go m.retryAllMessages()

	if m.snfClient != nil {
		m.wg.Add(2)
		go m.DownloadMessages()
		go m.processPushedMessages()
	}

	// Then every RetryInterval
	retryTicker := time.NewTicker(RetryInterval)
	requeryTicker := time.NewTicker(RequeryInterval)
	for {
		select {
		case <-m.done:
			retryTicker.Stop()
			requeryTicker.Stop()
			return
		case <-retryTicker.C:
			m.wg.Add(1)
			go m.retryAllMessages()
		case <-requeryTicker.C:
			if m.snfClient != nil {
				m.wg.Add(1)
				go m.DownloadMessages()
			}
		}
	}
}

// processPushedMessages handles the messages our mailbox servers push to
// us while we are online.
func (m *Messenger) processPushedMessages() {
	defer m.wg.Done()

	sub := m.snfClient.SubscribeMessages()
	for {
		select {
		case <-m.done:
			return
		case msg := <-sub.Out:
			p, pmes, err := m.decryptMessage(msg.EncryptedMessage)
			if err != nil {
				log.Warningf("Decryption failed for message %x", msg.MessageID)
			} else if !m.ns.dispatch(p, pmes) {
				log.Warningf("No handler for decrypted message %s", pmes.MessageID)
			}

			if err := m.snfClient.AckMessage(context.Background(), msg.MessageID); err != nil {
				log.Errorf("Error acking message with snf servers: %s", err)
			}
		}
	}
}

// trySendMessage tries to send the message directly to the peer using a
// network connection. If that fails and useMailbox is set, it sends the
// message over the offline messaging system.
func (m *Messenger) trySendMessage(peerID peer.ID, message *pb.Message, useMailbox bool, onResult ResultFunc) {
	defer m.wg.Done()

	report := func(result DeliveryResult, err error) {
		if onResult != nil {
			onResult(result, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
	defer cancel()

	err := m.ns.SendMessage(ctx, peerID, message)
	if err == nil {
		log.Debugf("Message %s direct send successful", message.MessageID)
		report(DeliveredDirect, nil)
		return
	}
	if !useMailbox || m.snfClient == nil {
		report(DeliveryFailed, err)
		return
	}

	log.Debugf("Failed to connect to peer %s. Sending offline message.", peerID.Pretty())
	servers, err := m.serversForPeer(peerID)
	if err != nil {
		log.Errorf("Error loading peers snf server addresses %s", err)
		report(DeliveryFailed, err)
		return
	}
	if len(servers) == 0 {
		log.Errorf("Error sending offline message: No inbox peers for peer %s", peerID.Pretty())
		report(DeliveryFailed, errors.New("no mailbox servers for peer"))
		return
	}

	cipherText, err := m.prepEncryptedMessage(peerID, message)
	if err != nil {
		log.Errorf("Error prepping offline message to %s: %s", peerID.Pretty(), err)
		report(DeliveryFailed, err)
		return
	}

	successes := uint32(0)
	var wg sync.WaitGroup
	wg.Add(len(servers))
	for _, server := range servers {
		go func(server peer.ID) {
			defer wg.Done()
			err := m.snfClient.SendMessage(context.Background(), peerID, server, nil, cipherText, nil)
			if err != nil {
				log.Warningf("Error pushing offline message %s to server %s: %s", message.MessageID, server.Pretty(), err)
				return
			}
			atomic.AddUint32(&successes, 1)
		}(server)
	}
	wg.Wait()
	log.Debugf("Message %s sent to %d of %d servers", message.MessageID, successes, len(servers))
	if successes == 0 {
		report(DeliveryFailed, errors.New("no mailbox server accepted the message"))
		return
	}
	report(DeliveredToMailbox, nil)
}

// serversForPeer returns the mailbox servers the peer advertised, or our
// own servers if it never told us.
func (m *Messenger) serversForPeer(peerID peer.ID) ([]peer.ID, error) {
	var record models.StoreAndForwardServers
	err := m.db.View(func(tx database.Tx) error {
		if err := tx.Read().Where("peer_id = ?", peerID.Pretty()).First(&record).Error; err != nil && !gorm.IsRecordNotFoundError(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	servers, err := record.Servers()
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		servers = m.snfServers
	}
	return servers, nil
}

// retryAllMessages loads all un-ACKed messages from the database and
// tries to send them again using an exponential backoff.
func (m *Messenger) retryAllMessages() {
	defer m.wg.Done()

	var messages []models.OutgoingMessage
	err := m.db.View(func(tx database.Tx) error {
		return tx.Read().Find(&messages).Error
	})
	if err != nil {
		log.Errorf("Error loading outgoing messages from the database: %s", err)
		return
	}

	for _, message := range messages {
		if !shouldWeRetry(message.Timestamp, message.LastAttempt) {
			continue
		}
		pmes, err := message.Message()
		if err != nil {
			log.Errorf("Error unmarshalling outgoing message: %s", err)
			continue
		}
		pid, err := peer.Decode(message.Recipient)
		if err != nil {
			log.Errorf("Error parsing peer ID in outgoing message: %s", err)
			continue
		}
		m.wg.Add(1)
		go m.trySendMessage(pid, pmes, true, nil)

		err = m.db.Update(func(tx database.Tx) error {
			return tx.Update("last_attempt", time.Now(), map[string]interface{}{"id = ?": message.ID}, &models.OutgoingMessage{})
		})
		if err != nil {
			log.Errorf("Error updating last attempt for outgoing message: %s", err)
		}
	}
}

// DownloadMessages will attempt to download messages from the snf client and
// decrypt and process them.
func (m *Messenger) DownloadMessages() {
	defer m.wg.Done()

	if m.snfClient == nil {
		return
	}
	encryptedMessages, err := m.snfClient.GetMessages(context.Background())
	if err != nil {
		log.Errorf("Error downloading messages from snf client: %s", err)
		return
	}
	type messageWithPeer struct {
		m *pb.Message
		p peer.ID
	}
	messages := make([]messageWithPeer, 0, len(encryptedMessages))
	for _, enc := range encryptedMessages {
		p, m, err := m.decryptMessage(enc.EncryptedMessage)
		if err != nil {
			log.Warningf("Decryption failed for message %x", enc.MessageID)
			continue
		}
		messages = append(messages, messageWithPeer{m: m, p: p})
	}
	// Sort the messages by sequence so we process the lowest sequences
	// first.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].m.Sequence < messages[j].m.Sequence
	})
	for _, mwp := range messages {
		if !m.ns.dispatch(mwp.p, mwp.m) {
			log.Warningf("No handler for decrypted message %s", mwp.m.MessageID)
		}
	}
	for _, enc := range encryptedMessages {
		if err := m.snfClient.AckMessage(context.Background(), enc.MessageID); err != nil {
			log.Errorf("Error acking message with snf servers: %s", err)
		}
	}
}

// prepEncryptedMessage signs the message, wraps it in an envelope, and encrypts it.
func (m *Messenger) prepEncryptedMessage(to peer.ID, message *pb.Message) ([]byte, error) {
	theirPubkey, err := to.ExtractPublicKey()
	if err != nil {
		return nil, err
	}

	ourPubkeyBytes, err := crypto.MarshalPublicKey(m.sk.GetPublic())
	if err != nil {
		return nil, err
	}

	env := pb.Envelope{
		Message:      message,
		SenderPubkey: ourPubkeyBytes,
	}

	ser, err := proto.Marshal(&env)
	if err != nil {
		return nil, err
	}

	sig, err := m.sk.Sign(ser)
	if err != nil {
		return nil, err
	}

	env.Signature = sig

	return Encrypt(theirPubkey, &env)
}

// decryptMessage will attempt to decrypt, validate, and unmarshal the message.
func (m *Messenger) decryptMessage(cipherText []byte) (peer.ID, *pb.Message, error) {
	env := new(pb.Envelope)
	if err := Decrypt(m.sk, cipherText, env); err != nil {
		return peer.ID(""), nil, err
	}

	senderPubkey, err := crypto.UnmarshalPublicKey(env.SenderPubkey)
	if err != nil {
		return peer.ID(""), nil, err
	}

	sig := env.Signature
	env.Signature = nil
	ser, err := proto.Marshal(env)
	if err != nil {
		return peer.ID(""), nil, err
	}

	valid, err := senderPubkey.Verify(ser, sig)
	if err != nil {
		return peer.ID(""), nil, err
	}
	if !valid {
		return peer.ID(""), nil, errors.New("invalid signature")
	}
	if env.Message == nil {
		return peer.ID(""), nil, errors.New("envelope missing message")
	}

	pid, err := peer.IDFromPublicKey(senderPubkey)
	return pid, env.Message, err
}

// shouldWeRetry calculates an exponential backoff for message retries based
// on how old the message is and how long since our last attempt.
func shouldWeRetry(messageTimestamp time.Time, lastTry time.Time) bool {
	timeSinceMessage := time.Since(messageTimestamp)
	timeSinceLastTry := time.Since(lastTry)

	switch t := timeSinceMessage; {
	// Less than 15 minute old message, retry every minute.
	case t < time.Minute*15 && timeSinceLastTry > time.Minute*1:
		return true
	// Less than 1 hour old message, retry every five minutes.
	case t < time.Hour && timeSinceLastTry > time.Minute*5:
		return true
	// Less than 1 day old message, retry every ten minutes.
	case t < time.Hour*24 && timeSinceLastTry > time.Minute*10:
		return true
	// Less than 1 week old message, retry every fifteen minutes.
	case t < time.Hour*24*7 && timeSinceLastTry > time.Minute*15:
		return true
	// Less than 1 month old message, retry every thirty minutes.
	case t < time.Hour*24*30 && timeSinceLastTry > time.Minute*30:
		return true
	// Less than 3 month old message, retry every hour.
	case t < time.Hour*24*30*3 && timeSinceLastTry > time.Hour:
		return true
	// Older than that, retry every day. Trade messages must eventually
	// get through.
	case t >= time.Hour*24*30*3 && timeSinceLastTry > time.Hour*24:
		return true
	}

	return false
}
