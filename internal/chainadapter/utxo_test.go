package chainadapter

import "testing"

func TestParseElectrumEndpoint(t *testing.T) {
	cases := []struct {
		endpoint    string
		wantServers []string
		wantTLS     bool
	}{
		{"ssl://electrum1.example.com:50002", []string{"electrum1.example.com:50002"}, true},
		{"tcp://electrum1.example.com:50001", []string{"electrum1.example.com:50001"}, false},
		{"a.example.com:50001,b.example.com:50001", []string{"a.example.com:50001", "b.example.com:50001"}, false},
		{"ssl://a.example.com:50002, b.example.com:50002", []string{"a.example.com:50002", "b.example.com:50002"}, true},
	}

	for _, c := range cases {
		servers, tls := parseElectrumEndpoint(c.endpoint)
		if tls != c.wantTLS {
			t.Errorf("parseElectrumEndpoint(%q) tls = %v, want %v", c.endpoint, tls, c.wantTLS)
		}
		if len(servers) != len(c.wantServers) {
			t.Fatalf("parseElectrumEndpoint(%q) servers = %v, want %v", c.endpoint, servers, c.wantServers)
		}
		for i := range servers {
			if servers[i] != c.wantServers[i] {
				t.Errorf("parseElectrumEndpoint(%q) servers[%d] = %q, want %q", c.endpoint, i, servers[i], c.wantServers[i])
			}
		}
	}
}

func TestSelectUTXOsGreedyCoversTargetPlusFee(t *testing.T) {
	utxos := []electrumUTXO{
		{TxID: "a", Vout: 0, Value: 1000},
		{TxID: "b", Vout: 0, Value: 50000},
		{TxID: "c", Vout: 0, Value: 2000},
	}

	selected, total, err := selectUTXOs(utxos, 3000, 1, 2)
	if err != nil {
		t.Fatalf("selectUTXOs: %v", err)
	}
	if len(selected) != 1 || selected[0].TxID != "b" {
		t.Errorf("expected the single largest utxo to be selected first, got %+v", selected)
	}
	if total != 50000 {
		t.Errorf("total = %d, want 50000", total)
	}
}

func TestSelectUTXOsInsufficientFunds(t *testing.T) {
	utxos := []electrumUTXO{{TxID: "a", Vout: 0, Value: 100}}
	if _, _, err := selectUTXOs(utxos, 1_000_000, 1, 2); err == nil {
		t.Error("expected an insufficient funds error")
	}
}

func TestEstimateVSizeGrowsWithInputsAndOutputs(t *testing.T) {
	base := estimateVSize(1, 1)
	moreInputs := estimateVSize(2, 1)
	moreOutputs := estimateVSize(1, 2)

	if moreInputs <= base {
		t.Error("adding an input should increase estimated vsize")
	}
	if moreOutputs <= base {
		t.Error("adding an output should increase estimated vsize")
	}
}
