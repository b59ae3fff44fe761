package tensors

// Device marks a tensor as resident on an accelerator device. It exists so the
// checkpoint registry can dispatch device-resident values; the storage is the
// same host buffer as the underlying Tensor.
type Device struct {
	local     *Tensor
	deviceNum int
}

// OnDevice wraps a tensor as device-resident on the given device number.
func OnDevice(t *Tensor, deviceNum int) *Device {
	return &Device{local: t, deviceNum: deviceNum}
}

// Local returns the host copy of the tensor.
func (d *Device) Local() *Tensor { return d.local }

// DeviceNum returns the device the tensor is assigned to.
func (d *Device) DeviceNum() int { return d.deviceNum }
