package daemon

import "fmt"

// Instance is one coin daemon endpoint, immutable after construction.
type Instance struct {
	Host     string
	Port     int
	User     string
	Password string
	Index    int
}

func (i Instance) url() string {
	return fmt.Sprintf("http://%s:%d", i.Host, i.Port)
}

func (i Instance) String() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}
