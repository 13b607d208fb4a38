// Package generator emits synthetic MT103 traffic into the input queue, for
// test mode and load exercises. A configurable share of the traffic is
// deliberately defective so the failure paths stay exercised too.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/finwire/mtflow/go/queue"
	"github.com/finwire/mtflow/go/swift"
)

// Config tunes the generator.
type Config struct {
	Cadence      time.Duration // Interval between batches.
	BatchSize    int           // Messages per batch.
	ValidPercent int           // Share of well-formed messages, 0..100.
	QueueName    string        // Destination queue.
}

func (c Config) withDefaults() Config {
	if c.Cadence <= 0 {
		c.Cadence = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.ValidPercent < 0 || c.ValidPercent > 100 {
		c.ValidPercent = 80
	}
	if c.QueueName == "" {
		c.QueueName = queue.DefaultNames().Input
	}
	return c
}

// Defect is a deliberate flaw injected into a generated message.
type Defect string

const (
	DefectNone               Defect = ""
	DefectMissingReference   Defect = "MissingTransactionReference"
	DefectNegativeAmount     Defect = "NegativeAmount"
	DefectMissingCurrency    Defect = "MissingCurrency"
	DefectBadOperationCode   Defect = "BadOperationCode"
	DefectMissingBeneficiary Defect = "MissingBeneficiary"
)

var defects = []Defect{
	DefectMissingReference,
	DefectNegativeAmount,
	DefectMissingCurrency,
	DefectBadOperationCode,
	DefectMissingBeneficiary,
}

var currencies = []string{"EUR", "USD", "GBP", "CHF", "JPY"}

var firstNames = []string{"ALICE", "BOB", "CARLOS", "DIANA", "ERIK", "FATIMA"}
var lastNames = []string{"SMITH", "JONES", "GARCIA", "MUELLER", "TANAKA", "OKAFOR"}
var streets = []string{"1 MAIN ST", "2 OAK AVE", "17 HIGH ROAD", "5 RIVER LANE"}
var cities = []string{"LONDON", "FRANKFURT", "MADRID", "ZURICH", "OSLO"}

var institutionBICs = []string{
	"BANKGB2LXXX", "DEUTDEFFXXX", "BNPAFRPPXXX", "UBSWCHZH80A", "INGBNL2AXXX",
}

// Generator produces batches on a cadence until its context is cancelled.
type Generator struct {
	cfg    Config
	queues queue.Queue
	rng    *rand.Rand
	serial int
}

// New seeds a Generator. A zero seed derives one from the clock.
func New(cfg Config, q queue.Queue, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:    cfg.withDefaults(),
		queues: q,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Run emits one batch per cadence tick. It returns nil when ctx is
// cancelled; send failures are logged and the batch continues.
func (g *Generator) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"cadence":      g.cfg.Cadence,
		"batchSize":    g.cfg.BatchSize,
		"validPercent": g.cfg.ValidPercent,
	}).Info("starting message generator")

	var ticker = time.NewTicker(g.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("message generator stopped")
			return nil
		case <-ticker.C:
			g.emitBatch(ctx)
		}
	}
}

// EmitBatch produces one batch immediately, outside the cadence.
func (g *Generator) EmitBatch(ctx context.Context) { g.emitBatch(ctx) }

func (g *Generator) emitBatch(ctx context.Context) {
	for i := 0; i < g.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			return
		}
		var payload, defect = g.Next()
		if err := g.queues.Send(ctx, g.cfg.QueueName, []byte(payload)); err != nil {
			log.WithFields(log.Fields{"err": err, "queue": g.cfg.QueueName}).
				Warn("generated message could not be enqueued")
			continue
		}
		if defect != DefectNone {
			log.WithField("defect", defect).Debug("emitted defective message")
		}
	}
}

// Next renders one payload and reports the defect injected into it, if any.
func (g *Generator) Next() (string, Defect) {
	var msg = g.message()
	var defect = DefectNone
	if g.rng.Intn(100) >= g.cfg.ValidPercent {
		defect = defects[g.rng.Intn(len(defects))]
		g.corrupt(msg, defect)
	}

	var payload = swift.Render(msg, swift.DefaultHeaders)
	if defect == DefectMissingCurrency {
		// Strip the currency code out of the rendered 32A field; the field
		// itself stays present so the flaw surfaces downstream.
		payload = strings.Replace(payload, msg.Currency, "", 1)
	}
	return payload, defect
}

// message builds a plausible, valid payment.
func (g *Generator) message() *swift.MT103Message {
	g.serial++
	var currency = currencies[g.rng.Intn(len(currencies))]
	var amount = decimal.NewFromInt(int64(g.rng.Intn(999_000) + 100)).
		Div(decimal.NewFromInt(100))

	var msg = &swift.MT103Message{
		TransactionReference: fmt.Sprintf("GEN%05d%s", g.serial, randomSuffix(g.rng)),
		BankOperationCode:    "CRED",
		ValueDate:            time.Now().AddDate(0, 0, g.rng.Intn(5)),
		Currency:             currency,
		Amount:               amount,
		OrderingCustomer:     g.party(),
		BeneficiaryCustomer:  g.party(),
		ChargeDetails:        swift.ChargeDetails{Bearer: "SHA"},
	}
	if g.rng.Intn(3) == 0 {
		msg.AccountWithInstitution = swift.Institution{
			Option: "A", BIC: institutionBICs[g.rng.Intn(len(institutionBICs))]}
	}
	if g.rng.Intn(4) == 0 {
		msg.RemittanceInformation = []string{"INVOICE " + randomSuffix(g.rng)}
	}
	return msg
}

func (g *Generator) party() swift.Party {
	return swift.Party{
		Kind:    swift.PartyNameAddress,
		Option:  "K",
		Account: fmt.Sprintf("%08d", g.rng.Intn(100_000_000)),
		Name: []string{firstNames[g.rng.Intn(len(firstNames))] + " " +
			lastNames[g.rng.Intn(len(lastNames))]},
		Address: []string{
			streets[g.rng.Intn(len(streets))],
			cities[g.rng.Intn(len(cities))],
		},
	}
}

func (g *Generator) corrupt(msg *swift.MT103Message, d Defect) {
	switch d {
	case DefectMissingReference:
		msg.TransactionReference = ""
	case DefectNegativeAmount:
		msg.Amount = msg.Amount.Neg()
	case DefectBadOperationCode:
		msg.BankOperationCode = "XXXX"
	case DefectMissingBeneficiary:
		msg.BeneficiaryCustomer = swift.Party{}
	case DefectMissingCurrency:
		// Handled on the rendered text.
	}
}

func randomSuffix(rng *rand.Rand) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var b = make([]byte, 4)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}
