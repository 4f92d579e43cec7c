package modem

import "time"

const shellcmdTimeout = 3 * time.Second
