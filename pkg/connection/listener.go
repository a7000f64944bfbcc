package connection

import "github.com/rickmoynihan/quadsail/pkg/rdf"

// NotificationListener receives change notifications as the connection's
// write operations stage statements; a notification is not retracted if the
// transaction is later rolled back.
type NotificationListener interface {
	StatementAdded(st rdf.Statement)
	StatementRemoved(st rdf.Statement)
}

func (c *Connection) notifyAdded(st rdf.Statement) {
	for _, l := range c.listeners {
		l.StatementAdded(st)
	}
}

func (c *Connection) notifyRemoved(st rdf.Statement) {
	for _, l := range c.listeners {
		l.StatementRemoved(st)
	}
}

// AddListener registers a NotificationListener. Not safe to call
// concurrently with an active transaction's writes.
func (c *Connection) AddListener(l NotificationListener) {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	c.listeners = append(c.listeners, l)
}
