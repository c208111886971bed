/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConf says how to connect to an MQTT broker.
type MQTTConf struct {
	Broker    string `json:"broker" yaml:"broker"`
	ClientId  string `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	KeepAlive int    `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`
	Clean     bool   `json:"clean,omitempty" yaml:"clean,omitempty"`
	Reconnect bool   `json:"reconnect,omitempty" yaml:"reconnect,omitempty"`

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint `json:"quiesce,omitempty" yaml:"quiesce,omitempty"`

	CertFile string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile  string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile   string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	Insecure bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`

	// Prefix is prepended (with a '/') to every topic.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// SubTopics are the request topics, separated by commas.  A
	// topic can end with ":QOS".
	SubTopics string `json:"subTopics,omitempty" yaml:"subTopics,omitempty"`

	// QoS for outbound messages.
	QoS byte `json:"qos,omitempty" yaml:"qos,omitempty"`

	// InTimeout bounds how long an inbound request waits to be
	// queued.  Zero means a second.
	InTimeout time.Duration `json:"inTimeout,omitempty" yaml:"inTimeout,omitempty"`
}

// Options builds Paho client options from the MQTTConf.
func (c *MQTTConf) Options() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(c.Broker)
	opts.SetClientID(c.ClientId)
	if 0 < c.KeepAlive {
		opts.SetKeepAlive(time.Second * time.Duration(c.KeepAlive))
	}
	opts.Username = c.Username
	opts.Password = c.Password
	opts.AutoReconnect = c.Reconnect
	opts.CleanSession = c.Clean

	tlsConf := &tls.Config{
		InsecureSkipVerify: c.Insecure,
	}

	if c.CAFile != "" {
		rootCAs, _ := x509.SystemCertPool()
		if rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}
		certs, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("couldn't read '%s': %w", c.CAFile, err)
		}
		if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
			log.Println("No certs appended, using system certs only")
		}
		tlsConf.RootCAs = rootCAs
	}

	if c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	opts.SetTLSConfig(tlsConf)

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	}

	return opts, nil
}

// MQTTCouplings is a Couplings for an MQTT client.
//
// Requests arrive on SubTopics.  Outbound messages are published to
// Prefix/TOPIC.
type MQTTCouplings struct {
	Client mqtt.Client
	Conf   MQTTConf

	incoming chan []byte
	outbound chan *Message
	done     chan bool
}

// NewMQTTCouplings makes a Paho client for the MQTTConf.  Call Start
// to connect.
func NewMQTTCouplings(conf *MQTTConf) (*MQTTCouplings, error) {
	if conf == nil || conf.Broker == "" {
		return nil, fmt.Errorf("no MQTT broker")
	}

	opts, err := conf.Options()
	if err != nil {
		return nil, err
	}

	c := &MQTTCouplings{
		Conf:     *conf,
		incoming: make(chan []byte),
		outbound: make(chan *Message, 64),
		done:     make(chan bool),
	}
	if c.Conf.InTimeout == 0 {
		c.Conf.InTimeout = time.Second
	}

	opts.DefaultPublishHandler = func(client mqtt.Client, msg mqtt.Message) {
		c.inHandler(msg.Topic(), msg.Payload())
	}

	c.Client = mqtt.NewClient(opts)

	return c, nil
}

// inHandler queues a request that arrived from the broker.
func (c *MQTTCouplings) inHandler(topic string, payload []byte) {
	var x interface{}
	if err := json.Unmarshal(payload, &x); err != nil {
		log.Printf("Couldn't JSON-parse payload on %s: %s", topic, JShort(string(payload)))
		return
	}

	to := time.NewTimer(c.Conf.InTimeout)
	defer to.Stop()

	select {
	case <-c.done:
		log.Printf("Couplings not forwarding after Stop")
	case c.incoming <- payload:
	case <-to.C:
		log.Printf("Couplings not forwarding due to stall")
	}
}

// Start creates the MQTT session and subscribes.
func (c *MQTTCouplings) Start(ctx context.Context) error {
	if token := c.Client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("Connected to broker %s", c.Conf.Broker)

	for _, topic := range strings.Split(c.Conf.SubTopics, ",") {
		topic, qos := parseTopic(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		log.Printf("Subscribing to %s (%d)", topic, qos)
		if t := c.Client.Subscribe(topic, qos, nil); t.Wait() && t.Error() != nil {
			return t.Error()
		}
	}

	go c.outLoop(ctx)

	return nil
}

// IO returns the request and outbound channels.
func (c *MQTTCouplings) IO(ctx context.Context) (chan []byte, chan *Message, chan bool, error) {
	return c.incoming, c.outbound, c.done, nil
}

// Topic returns the full topic for a relative one.
func (c *MQTTCouplings) Topic(topic string) string {
	if c.Conf.Prefix == "" {
		return topic
	}
	return strings.TrimSuffix(c.Conf.Prefix, "/") + "/" + topic
}

// outLoop publishes outbound messages.
func (c *MQTTCouplings) outLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case m := <-c.outbound:
			if m == nil {
				return
			}
			js, err := json.Marshal(m.Payload)
			if err != nil {
				log.Printf("Failed to marshal %#v", m.Payload)
				continue
			}
			token := c.Client.Publish(c.Topic(m.Topic), c.Conf.QoS, false, js)
			if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
				log.Printf("Publish error on %s: %v", m.Topic, token.Error())
			}
		}
	}
}

// Stop terminates the MQTT session.
func (c *MQTTCouplings) Stop(ctx context.Context) error {
	close(c.done)
	c.Client.Disconnect(c.Conf.Quiesce)
	return nil
}

// parseTopic can extract QoS from a topic name of the form TOPIC:QOS.
func parseTopic(s string) (string, byte) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, 0
	}
	var qos byte
	if _, err := fmt.Sscanf(s[i+1:], "%d", &qos); err != nil {
		return s, 0
	}
	return s[:i], qos
}
