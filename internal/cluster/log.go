package cluster

import "github.com/charmbracelet/log"

// logs message when count crosses a multiple of percent of total
func logEveryNPercent(count, percent, total int, message string) {
	if total <= 0 {
		return
	}
	step := max(total*percent/100, 1)
	if count%step == 0 || count == total {
		log.Debugf("%s (%d%%)", message, 100*count/total)
	}
}
