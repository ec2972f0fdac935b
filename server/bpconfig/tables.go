// Package bpconfig names the tables of a Backplane instance and caches the server
// configuration record.
package bpconfig

// Tables names the tables of one instance. Every table name is the instance id
// followed by a fixed suffix.
type Tables struct {
	Prefix string
}

// NewTables returns the table names for the instance.
func NewTables(instanceID string) Tables {
	return Tables{Prefix: instanceID}
}

// Messages holds the messages of all buses.
func (t Tables) Messages() string { return t.Prefix + "_messages" }

// Buses holds bus configurations.
func (t Tables) Buses() string { return t.Prefix + "_BusConfig" }

// Users holds bus users.
func (t Tables) Users() string { return t.Prefix + "_User" }

// Admins holds provisioning admins.
func (t Tables) Admins() string { return t.Prefix + "_Admin" }

// ServerConfig holds the single server configuration record.
func (t Tables) ServerConfig() string { return t.Prefix + "_bpserverconfig" }

// All lists every table of the instance.
func (t Tables) All() []string {
	return []string{t.Messages(), t.Buses(), t.Users(), t.Admins(), t.ServerConfig()}
}
