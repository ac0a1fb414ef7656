package adis

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// fakeChip emulates the register file and the one-transfer read latency.
type fakeChip struct {
	regs    map[byte]uint16
	pending uint16
	burst   []byte
	closed  bool
	txErr   error
}

func newFakeChip() *fakeChip {
	return &fakeChip{regs: map[byte]uint16{RegProdID: ProductID}}
}

func (f *fakeChip) Tx(w, r []byte) error {
	if f.txErr != nil {
		return f.txErr
	}
	if len(w) == 2+2*burstWords && w[0] == burstCmd {
		copy(r[2:], f.burst)
		return nil
	}
	binary.BigEndian.PutUint16(r, f.pending)
	f.pending = 0
	if w[0]&0x80 != 0 {
		addr := w[0] & 0x7F
		if addr%2 == 0 {
			f.regs[addr] = f.regs[addr]&0xFF00 | uint16(w[1])
		} else {
			f.regs[addr-1] = f.regs[addr-1]&0x00FF | uint16(w[1])<<8
		}
		return nil
	}
	f.pending = f.regs[w[0]]
	return nil
}

func (f *fakeChip) Close() error {
	f.closed = true
	return nil
}

func openFake(t *testing.T, chip *fakeChip) *Device {
	t.Helper()
	d := New(Opts{Open: func(string, int64) (Transport, error) { return chip, nil }})
	if err := d.OpenPort("/dev/fake"); err != nil {
		t.Fatalf("OpenPort: %v", err)
	}
	return d
}

func burstFrame(words [burstWords - 1]int16) []byte {
	b := make([]byte, 2*burstWords)
	var sum uint16
	for i, w := range words {
		binary.BigEndian.PutUint16(b[2*i:], uint16(w))
	}
	for _, v := range b[:2*(burstWords-1)] {
		sum += uint16(v)
	}
	binary.BigEndian.PutUint16(b[2*(burstWords-1):], sum)
	return b
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestProductID(t *testing.T) {
	d := openFake(t, newFakeChip())
	id, err := d.ProductID()
	if err != nil {
		t.Fatalf("ProductID: %v", err)
	}
	if id != ProductID {
		t.Errorf("expected %d, got %d", ProductID, id)
	}
}

func TestNotOpen(t *testing.T) {
	d := New(Opts{})
	if _, err := d.ProductID(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("ProductID: expected ErrNotOpen, got %v", err)
	}
	if err := d.UpdateBurst(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("UpdateBurst: expected ErrNotOpen, got %v", err)
	}
	if err := d.ClosePort(); err != nil {
		t.Errorf("ClosePort on closed device: %v", err)
	}
}

func TestClosePort(t *testing.T) {
	chip := newFakeChip()
	d := openFake(t, chip)
	if err := d.ClosePort(); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}
	if !chip.closed || d.IsOpen() {
		t.Error("transport not closed")
	}
}

func TestRegisterWrites(t *testing.T) {
	chip := newFakeChip()
	d := openFake(t, chip)

	if err := d.SetBiasEstimationTime(DefaultBiasEstimationTime); err != nil {
		t.Fatalf("SetBiasEstimationTime: %v", err)
	}
	if got := chip.regs[RegNullCnfg]; got != 0x070a {
		t.Errorf("NULL_CNFG = 0x%04X, want 0x070A", got)
	}
	if err := d.BiasCorrectionUpdate(); err != nil {
		t.Fatalf("BiasCorrectionUpdate: %v", err)
	}
	if got := chip.regs[RegGlobCmd]; got != GlobCmdBiasCorrectionUpdate {
		t.Errorf("GLOB_CMD = 0x%04X, want 0x0001", got)
	}
}

func TestUpdate32Bit(t *testing.T) {
	chip := newFakeChip()
	chip.regs[RegXGyroOut] = 10             // 1 °/s
	chip.regs[RegYGyroOut] = uint16(0xFFF6) // -1 °/s
	chip.regs[RegZGyroLow] = 0x8000         // half an LSB
	chip.regs[RegZAcclOut] = 800            // 1 g
	chip.regs[RegTempOut] = 250             // 25 °C
	d := openFake(t, chip)

	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	r := d.Latest()
	if !near(r.Gyro[0], 10*gyroScale) {
		t.Errorf("gyro x = %v", r.Gyro[0])
	}
	if !near(r.Gyro[1], -10*gyroScale) {
		t.Errorf("gyro y = %v", r.Gyro[1])
	}
	if !near(r.Gyro[2], 0.5*gyroScale) {
		t.Errorf("gyro z = %v", r.Gyro[2])
	}
	if !near(r.Accel[2], gravity) {
		t.Errorf("accel z = %v, want %v", r.Accel[2], gravity)
	}
	if !near(r.Temp, 25) {
		t.Errorf("temp = %v", r.Temp)
	}
}

func TestUpdateBurst(t *testing.T) {
	chip := newFakeChip()
	// DIAG, GX, GY, GZ, AX, AY, AZ, TEMP, CNTR
	chip.burst = burstFrame([burstWords - 1]int16{0, 10, -20, 30, 0, 0, 800, -50, 7})
	d := openFake(t, chip)

	if err := d.UpdateBurst(); err != nil {
		t.Fatalf("UpdateBurst: %v", err)
	}
	r := d.Latest()
	if !near(r.Gyro[1], -20*gyroScale) || !near(r.Gyro[2], 30*gyroScale) {
		t.Errorf("gyro = %v", r.Gyro)
	}
	if !near(r.Accel[2], gravity) {
		t.Errorf("accel z = %v", r.Accel[2])
	}
	if !near(r.Temp, -5) {
		t.Errorf("temp = %v", r.Temp)
	}
}

func TestUpdateBurstChecksum(t *testing.T) {
	chip := newFakeChip()
	chip.burst = burstFrame([burstWords - 1]int16{0, 10, 0, 0, 0, 0, 800, 0, 1})
	d := openFake(t, chip)
	if err := d.UpdateBurst(); err != nil {
		t.Fatalf("UpdateBurst: %v", err)
	}
	good := d.Latest()

	chip.burst = burstFrame([burstWords - 1]int16{0, 99, 0, 0, 0, 0, 0, 0, 2})
	chip.burst[len(chip.burst)-1] ^= 0x01
	if err := d.UpdateBurst(); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if d.Latest() != good {
		t.Error("readings changed after a rejected frame")
	}
}

func TestUpdateTxError(t *testing.T) {
	chip := newFakeChip()
	d := openFake(t, chip)
	chip.txErr = errors.New("bus fault")
	if err := d.Update(); err == nil {
		t.Fatal("expected error")
	}
}
