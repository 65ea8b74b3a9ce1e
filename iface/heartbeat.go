package iface

import (
	"fmt"
	"time"

	"github.com/seamux/seamux/nmea"
)

// startHeartbeat periodically pushes a proprietary heartbeat sentence to the
// interface's outbound queue so that idle links carry periodic traffic. The
// runner stops when the queue is closed.
func startHeartbeat(ifa *Iface) {
	period := time.Duration(ifa.HeartbeatSecs) * time.Second
	go func() {
		for {
			time.Sleep(period)
			sb := heartbeatSenblk(ifa.ID)
			ifa.Q.mutex.Lock()
			closed := ifa.Q.closed
			ifa.Q.mutex.Unlock()
			if closed {
				return
			}
			ifa.Q.Push(sb)
		}
	}()
}

func heartbeatSenblk(source uint32) *nmea.Senblk {
	body := fmt.Sprintf("$SMXHB,%d", source)
	data := fmt.Sprintf("%s*%02X\r\n", body, nmea.Checksum([]byte(body)))
	return &nmea.Senblk{Data: []byte(data), Source: source, Received: time.Now()}
}
