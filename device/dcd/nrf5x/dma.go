package nrf5x

import "github.com/ardnew/usbcore/device/dcd"

// dmaKind is the direction of an EasyDMA job.
type dmaKind uint8

const (
	dmaToEndpoint dmaKind = iota // RAM to endpoint buffer (IN)
	dmaToRAM                     // endpoint buffer to RAM (OUT)
)

// dmaJob is one queued STARTEPIN/STARTEPOUT task.
type dmaJob struct {
	ep   uint8
	kind dmaKind
}

// dmaEngine serializes EasyDMA jobs. The peripheral progresses the queue
// between bus transactions.
type dmaEngine struct {
	queue []dmaJob
	done  []uint8 // endpoint addresses in completion order
}

func (d *dmaEngine) start(job dmaJob) {
	d.queue = append(d.queue, job)
}

func (d *dmaEngine) reset() {
	d.queue = d.queue[:0]
}

// drop removes queued jobs for ep.
func (d *dmaEngine) drop(ep uint8) {
	q := d.queue[:0]
	for _, j := range d.queue {
		if j.ep != ep {
			q = append(q, j)
		}
	}
	d.queue = q
}

// run executes queued jobs one at a time. exec performs the copy and the
// END event handling of a job, which may queue further jobs.
func (d *dmaEngine) run(exec func(dmaJob)) {
	for len(d.queue) > 0 {
		job := d.queue[0]
		d.queue = d.queue[1:]
		exec(job)
		d.done = append(d.done, job.ep)
		if len(d.done) > 64 {
			d.done = d.done[len(d.done)-64:]
		}
	}
}

func jobFor(ep uint8) dmaJob {
	if dcd.EdptIsIn(ep) {
		return dmaJob{ep: ep, kind: dmaToEndpoint}
	}
	return dmaJob{ep: ep, kind: dmaToRAM}
}
